package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/rowgo/table"
)

// maxPayloadSize bounds a single record so a corrupted length prefix cannot
// trigger a huge allocation during replay.
const maxPayloadSize = 64 << 20

// encodeEntry serializes a record payload:
//
//	[SeqNum u64][Type u8][RowID u64][tuples]
//
// Insert and delete carry one tuple; update carries the old tuple followed by
// the new one. Checkpoint carries none.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint64(buf, e.SeqNum)
	buf = append(buf, byte(e.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.RowID))

	switch e.Type {
	case OpInsert, OpDelete:
		buf = table.AppendRowBinary(buf, e.Values)
	case OpUpdate:
		buf = table.AppendRowBinary(buf, e.OldValues)
		buf = table.AppendRowBinary(buf, e.Values)
	case OpCheckpoint:
	}
	return buf
}

func decodeEntry(payload []byte) (Entry, error) {
	if len(payload) < 17 {
		return Entry{}, fmt.Errorf("WAL payload too short: %d bytes", len(payload))
	}

	var e Entry
	e.SeqNum = binary.LittleEndian.Uint64(payload)
	e.Type = OperationType(payload[8])
	e.RowID = table.RowID(binary.LittleEndian.Uint64(payload[9:]))
	rest := payload[17:]

	var used int
	var err error
	switch e.Type {
	case OpInsert, OpDelete:
		e.Values, used, err = table.DecodeRowBinary(rest)
		if err != nil {
			return Entry{}, fmt.Errorf("decode WAL tuple: %w", err)
		}
		rest = rest[used:]
	case OpUpdate:
		e.OldValues, used, err = table.DecodeRowBinary(rest)
		if err != nil {
			return Entry{}, fmt.Errorf("decode WAL old tuple: %w", err)
		}
		rest = rest[used:]
		e.Values, used, err = table.DecodeRowBinary(rest)
		if err != nil {
			return Entry{}, fmt.Errorf("decode WAL new tuple: %w", err)
		}
		rest = rest[used:]
	case OpCheckpoint:
	default:
		return Entry{}, fmt.Errorf("unknown WAL operation type %d", e.Type)
	}
	if len(rest) != 0 {
		return Entry{}, fmt.Errorf("%d trailing bytes in WAL payload", len(rest))
	}
	return e, nil
}

// Replay reads the log at path and invokes fn for every intact record in
// order. A torn or corrupt record ends replay without error: everything
// before it was durable, everything after it never was.
func Replay(path string, fn func(e Entry) error) error {
	file, err := os.Open(path) //nolint:gosec // G304: path is configurable
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open WAL for replay: %w", err)
	}
	defer file.Close()

	compressed, _, err := readHeader(file)
	if err != nil {
		// An empty or truncated header means nothing was ever logged.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return err
	}

	var reader io.Reader = bufio.NewReader(file)
	if compressed {
		dec, err := zstd.NewReader(reader)
		if err != nil {
			return fmt.Errorf("init zstd decoder: %w", err)
		}
		defer dec.Close()
		reader = dec
	}

	for {
		var frame [8]byte
		if _, err := io.ReadFull(reader, frame[:]); err != nil {
			// Normal end of log, or a tear mid-prefix.
			return nil //nolint:nilerr // torn tail ends replay cleanly
		}
		length := binary.LittleEndian.Uint32(frame[:4])
		checksum := binary.LittleEndian.Uint32(frame[4:])
		if length > maxPayloadSize {
			return nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil //nolint:nilerr // torn tail ends replay cleanly
		}
		if crc32.ChecksumIEEE(payload) != checksum {
			return nil
		}

		entry, err := decodeEntry(payload)
		if err != nil {
			return nil //nolint:nilerr // corrupt tail ends replay cleanly
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
