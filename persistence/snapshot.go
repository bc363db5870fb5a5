package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/rowgo/codec"
	"github.com/hupe1980/rowgo/engine"
	"github.com/hupe1980/rowgo/table"
)

// Snapshot file layout:
//
//	[Magic u32] [Version u32] [CodecNameLen u8] [CodecName]
//	Section*
//
// Section framing:
//
//	[ID u8] [PayloadLen u64] [CRC32 u32] [Payload]
//
// The manifest section comes first, then the row section (lz4 frame of
// [RecLen u32][RowID u64][tuple] records), then one index section per
// manifest index, in manifest order. All integers are little-endian.

// ctxCheckInterval is how many rows are processed between context checks.
const ctxCheckInterval = 4096

// WriteSnapshot serializes the table and its non-partial indexes to w.
//
// walSeqNum is the WAL sequence number the snapshot covers; it is recorded
// in the manifest so recovery knows which log entries are already applied.
// The caller must quiesce writes for the duration.
func WriteSnapshot(ctx context.Context, w io.Writer, c codec.Codec, tbl *table.Table, mgr *engine.Manager, walSeqNum uint64) error {
	if c == nil {
		c = codec.Default
	}

	rowsPayload, rowCount, err := encodeRows(ctx, tbl)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	manifest := Manifest{
		TableName: tbl.Name(),
		RowCount:  rowCount,
		NextRowID: tbl.NextID(),
		WALSeqNum: walSeqNum,
	}
	for _, col := range tbl.Schema().Columns() {
		manifest.Columns = append(manifest.Columns, ManifestColumn{
			Name:     col.Name,
			Type:     uint8(col.Type),
			Nullable: col.Nullable,
		})
	}

	var handles []*engine.Handle
	if mgr != nil {
		for _, h := range mgr.Indexes() {
			if h.Partial() {
				manifest.PartialIndexes = append(manifest.PartialIndexes, h.Name())
				continue
			}
			handles = append(handles, h)
			manifest.Indexes = append(manifest.Indexes, ManifestIndex{
				Name:    h.Name(),
				Columns: h.Columns(),
				Unique:  h.Unique(),
				Degree:  h.Tree().Degree(),
			})
		}
	}

	manifestPayload, err := c.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := writeFileHeader(w, c.Name()); err != nil {
		return err
	}
	if err := writeSection(w, SectionManifest, manifestPayload); err != nil {
		return err
	}
	if err := writeSection(w, SectionRows, rowsPayload); err != nil {
		return err
	}
	for _, h := range handles {
		var buf bytes.Buffer
		if err := h.Tree().Save(&buf); err != nil {
			return fmt.Errorf("serialize index %q: %w", h.Name(), err)
		}
		if err := writeSection(w, SectionIndex, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// encodeRows builds the lz4-compressed row section payload.
func encodeRows(ctx context.Context, tbl *table.Table) ([]byte, uint64, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)

	var count uint64
	var rec []byte
	for row, err := range tbl.Scan(ctx) {
		if err != nil {
			return nil, 0, err
		}

		rec = rec[:0]
		rec = binary.LittleEndian.AppendUint64(rec, uint64(row.ID))
		rec = table.AppendRowBinary(rec, row.Values)

		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(rec)))
		if _, err := zw.Write(hdr[:]); err != nil {
			return nil, 0, err
		}
		if _, err := zw.Write(rec); err != nil {
			return nil, 0, err
		}
		count++
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), count, nil
}

func writeFileHeader(w io.Writer, codecName string) error {
	if len(codecName) > 255 {
		return fmt.Errorf("codec name too long: %q", codecName)
	}
	var hdr []byte
	hdr = binary.LittleEndian.AppendUint32(hdr, MagicNumber)
	hdr = binary.LittleEndian.AppendUint32(hdr, Version)
	hdr = append(hdr, byte(len(codecName)))
	hdr = append(hdr, codecName...)
	_, err := w.Write(hdr)
	return err
}

func writeSection(w io.Writer, id uint8, payload []byte) error {
	var hdr [13]byte
	hdr[0] = id
	binary.LittleEndian.PutUint64(hdr[1:], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[9:], crc32Sum(payload))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func crc32Sum(p []byte) uint32 {
	cw := NewChecksumWriter(io.Discard)
	_, _ = cw.Write(p)
	return cw.Sum()
}

// ReadSnapshot reconstructs a table and its index manager from r.
//
// Partial indexes listed in the manifest are not restored; their names are
// returned in the manifest so the caller can re-create them with their
// predicates.
func ReadSnapshot(ctx context.Context, r io.Reader, logger *slog.Logger) (*table.Table, *engine.Manager, *Manifest, error) {
	codecName, err := readFileHeader(r)
	if err != nil {
		return nil, nil, nil, err
	}
	c, ok := codec.ByName(codecName)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnknownCodec, codecName)
	}

	manifestPayload, err := readSection(r, SectionManifest)
	if err != nil {
		return nil, nil, nil, err
	}
	var manifest Manifest
	if err := c.Unmarshal(manifestPayload, &manifest); err != nil {
		return nil, nil, nil, fmt.Errorf("decode manifest: %w", err)
	}

	columns := make([]table.Column, 0, len(manifest.Columns))
	for _, mc := range manifest.Columns {
		columns = append(columns, table.Column{
			Name:     mc.Name,
			Type:     table.ValueType(mc.Type),
			Nullable: mc.Nullable,
		})
	}
	schema, err := table.NewSchema(columns...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("manifest schema: %w", err)
	}
	tbl := table.New(manifest.TableName, schema)

	rowsPayload, err := readSection(r, SectionRows)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := decodeRows(ctx, tbl, rowsPayload, manifest.RowCount); err != nil {
		return nil, nil, nil, fmt.Errorf("decode rows: %w", err)
	}
	tbl.RestoreNextID(manifest.NextRowID)

	mgr := engine.NewManager(tbl, logger)
	for _, mi := range manifest.Indexes {
		payload, err := readSection(r, SectionIndex)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("index %q: %w", mi.Name, err)
		}
		spec := engine.IndexSpec{
			Name:    mi.Name,
			Columns: mi.Columns,
			Unique:  mi.Unique,
			Degree:  mi.Degree,
		}
		if _, err := mgr.RestoreIndex(spec, bytes.NewReader(payload)); err != nil {
			return nil, nil, nil, err
		}
	}
	return tbl, mgr, &manifest, nil
}

func decodeRows(ctx context.Context, tbl *table.Table, payload []byte, want uint64) error {
	zr := lz4.NewReader(bytes.NewReader(payload))

	var count uint64
	for {
		if count%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var hdr [4]byte
		if _, err := io.ReadFull(zr, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		rec := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
		if _, err := io.ReadFull(zr, rec); err != nil {
			return err
		}
		if len(rec) < 8 {
			return fmt.Errorf("row record too short: %d bytes", len(rec))
		}

		id := table.RowID(binary.LittleEndian.Uint64(rec))
		values, used, err := table.DecodeRowBinary(rec[8:])
		if err != nil {
			return err
		}
		if used != len(rec)-8 {
			return fmt.Errorf("row %d: %d trailing bytes", id, len(rec)-8-used)
		}
		if err := tbl.InsertAt(id, values); err != nil {
			return err
		}
		count++
	}
	if count != want {
		return fmt.Errorf("row count mismatch: manifest says %d, file has %d", want, count)
	}
	return nil
}

func readFileHeader(r io.Reader) (string, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("read snapshot header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[:4]) != MagicNumber {
		return "", fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, binary.LittleEndian.Uint32(hdr[:4]))
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != Version {
		return "", fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, v)
	}
	name := make([]byte, hdr[8])
	if _, err := io.ReadFull(r, name); err != nil {
		return "", fmt.Errorf("read codec name: %w", err)
	}
	return string(name), nil
}

func readSection(r io.Reader, wantID uint8) ([]byte, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read section header: %w", err)
	}
	if hdr[0] != wantID {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrInvalidSection, wantID, hdr[0])
	}
	length := binary.LittleEndian.Uint64(hdr[1:])
	checksum := binary.LittleEndian.Uint32(hdr[9:])

	payload := make([]byte, length)
	cr := NewChecksumReader(r)
	if _, err := io.ReadFull(cr, payload); err != nil {
		return nil, fmt.Errorf("read section payload: %w", err)
	}
	if err := cr.Verify(checksum); err != nil {
		return nil, err
	}
	return payload, nil
}
