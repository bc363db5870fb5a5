// Package wal provides write-ahead logging for row mutations.
//
// Every insert, update and delete is appended to the log before it is
// acknowledged, so a crash can be recovered by replaying the tail on top of
// the last snapshot. Checkpoint marks a snapshot boundary and truncates the
// log.
//
// Records are length-prefixed and CRC-checked; replay stops cleanly at a
// torn tail. The whole stream may optionally be zstd-compressed.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/rowgo/table"
)

const (
	fileName = "rowgo.wal"

	headerMagic   = "RGWL"
	headerVersion = 1
	headerSize    = 14 // magic + version + flags + base sequence number

	flagCompressed = 1 << 0
)

// WAL is an append-only row-mutation log.
type WAL struct {
	mu         sync.Mutex
	file       *os.File
	bufWriter  *bufio.Writer
	compressor *zstd.Encoder
	writer     io.Writer // compressor or bufWriter

	filePath   string
	compressed bool
	level      int
	seqNum     uint64

	durability DurabilityMode

	groupTicker *time.Ticker
	groupStop   chan struct{}
	groupWg     sync.WaitGroup
	dirty       bool
}

// New opens (or creates) the WAL in opts.Path and positions for appending.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	filePath := filepath.Join(opts.Path, fileName)

	// Scan the existing log (if any) to find the next sequence number, then
	// reopen for appending.
	var lastSeq uint64
	if _, err := os.Stat(filePath); err == nil {
		if err := Replay(filePath, func(e Entry) error {
			lastSeq = e.SeqNum
			return nil
		}); err != nil {
			return nil, fmt.Errorf("scan existing WAL: %w", err)
		}
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat WAL file: %w", err)
	}

	w := &WAL{
		file:       file,
		filePath:   filePath,
		compressed: opts.Compress,
		level:      opts.CompressionLevel,
		seqNum:     lastSeq,
		durability: opts.DurabilityMode,
	}

	if st.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		compressed, baseSeq, err := readHeader(file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		if compressed != opts.Compress {
			_ = file.Close()
			return nil, fmt.Errorf("WAL compression flag mismatch: file %v, options %v", compressed, opts.Compress)
		}
		// A checkpointed log is empty but numbering must continue past the
		// snapshot it produced.
		if baseSeq > w.seqNum {
			w.seqNum = baseSeq
		}
	}

	if err := w.initWriters(opts.CompressionLevel); err != nil {
		_ = file.Close()
		return nil, err
	}

	if w.durability == DurabilityGroupCommit {
		w.startGroupCommit(opts.GroupCommitInterval)
	}
	return w, nil
}

// FilePath returns the path to the WAL file.
func (w *WAL) FilePath() string { return w.filePath }

// SeqNum returns the sequence number of the most recent record.
func (w *WAL) SeqNum() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seqNum
}

// writeHeader stamps the file with the magic, version, flags and the base
// sequence number: the number of the last record already covered elsewhere.
// Zero for a fresh log, the pre-truncation position after a checkpoint.
func (w *WAL) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[:4], headerMagic)
	hdr[4] = headerVersion
	if w.compressed {
		hdr[5] = flagCompressed
	}
	binary.LittleEndian.PutUint64(hdr[6:], w.seqNum)
	if _, err := w.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return w.file.Sync()
}

func readHeader(r io.Reader) (compressed bool, baseSeq uint64, err error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return false, 0, fmt.Errorf("read WAL header: %w", err)
	}
	if string(hdr[:4]) != headerMagic {
		return false, 0, fmt.Errorf("bad WAL magic %q", hdr[:4])
	}
	if hdr[4] != headerVersion {
		return false, 0, fmt.Errorf("unsupported WAL version %d", hdr[4])
	}
	return hdr[5]&flagCompressed != 0, binary.LittleEndian.Uint64(hdr[6:]), nil
}

func (w *WAL) initWriters(level int) error {
	w.bufWriter = bufio.NewWriter(w.file)
	w.writer = w.bufWriter
	if w.compressed {
		encLevel := zstd.SpeedDefault
		if level > 0 {
			encLevel = zstd.EncoderLevelFromZstd(level)
		}
		enc, err := zstd.NewWriter(w.bufWriter, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			return fmt.Errorf("init zstd encoder: %w", err)
		}
		w.compressor = enc
		w.writer = enc
	}
	return nil
}

// LogInsert appends an insert record.
func (w *WAL) LogInsert(id table.RowID, values []table.Value) (uint64, error) {
	return w.append(Entry{Type: OpInsert, RowID: id, Values: values})
}

// LogUpdate appends an update record carrying both tuples.
func (w *WAL) LogUpdate(id table.RowID, oldValues, newValues []table.Value) (uint64, error) {
	return w.append(Entry{Type: OpUpdate, RowID: id, Values: newValues, OldValues: oldValues})
}

// LogDelete appends a delete record.
func (w *WAL) LogDelete(id table.RowID, values []table.Value) (uint64, error) {
	return w.append(Entry{Type: OpDelete, RowID: id, Values: values})
}

// append assigns the next sequence number, encodes and writes the record,
// then applies the durability policy. It returns the assigned sequence
// number.
func (w *WAL) append(e Entry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("WAL is closed")
	}

	w.seqNum++
	e.SeqNum = w.seqNum

	payload := encodeEntry(e)
	var frame []byte
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(payload))
	frame = append(frame, payload...)

	if _, err := w.writer.Write(frame); err != nil {
		return 0, fmt.Errorf("append WAL record: %w", err)
	}
	w.dirty = true

	switch w.durability {
	case DurabilitySync:
		if err := w.flushLocked(true); err != nil {
			return 0, err
		}
	case DurabilityAsync, DurabilityGroupCommit:
		// Group commit fsyncs on its ticker; async never does.
	}
	return e.SeqNum, nil
}

// flushLocked pushes buffered bytes to the OS and optionally fsyncs.
func (w *WAL) flushLocked(sync bool) error {
	if w.compressor != nil {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("flush zstd stream: %w", err)
		}
	}
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("flush WAL buffer: %w", err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("fsync WAL: %w", err)
		}
	}
	w.dirty = false
	return nil
}

// Sync forces buffered records to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.flushLocked(true)
}

func (w *WAL) startGroupCommit(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOptions.GroupCommitInterval
	}
	w.groupTicker = time.NewTicker(interval)
	w.groupStop = make(chan struct{})
	w.groupWg.Add(1)
	go func() {
		defer w.groupWg.Done()
		for {
			select {
			case <-w.groupTicker.C:
				w.mu.Lock()
				if w.file != nil && w.dirty {
					_ = w.flushLocked(true)
				}
				w.mu.Unlock()
			case <-w.groupStop:
				return
			}
		}
	}()
}

// Checkpoint truncates the log after a successful snapshot. Sequence
// numbering continues where it left off.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("WAL is closed")
	}
	if err := w.flushLocked(true); err != nil {
		return err
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("close zstd stream: %w", err)
		}
		w.compressor = nil
	}

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind WAL: %w", err)
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.initWriters(w.level)
}

// Close flushes and releases the log. Safe to call twice.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.file == nil {
		w.mu.Unlock()
		return nil
	}
	if w.groupTicker != nil {
		w.groupTicker.Stop()
		close(w.groupStop)
	}
	w.mu.Unlock()
	w.groupWg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.flushLocked(true)
	if w.compressor != nil {
		if cerr := w.compressor.Close(); err == nil {
			err = cerr
		}
		if cerr := w.bufWriter.Flush(); err == nil && cerr != nil {
			err = cerr
		}
		if cerr := w.file.Sync(); err == nil && cerr != nil {
			err = cerr
		}
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
