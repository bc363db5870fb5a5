package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowgo/table"
)

func testRow(name string, salary int64) []table.Value {
	return []table.Value{table.String(name), table.Int(salary)}
}

func openTestWAL(t *testing.T, optFns ...func(o *Options)) (*WAL, string) {
	t.Helper()

	dir := t.TempDir()
	fns := append([]func(o *Options){func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilitySync
	}}, optFns...)

	w, err := New(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	return w, filepath.Join(dir, fileName)
}

func TestWAL_AppendAndReplay(t *testing.T) {
	w, path := openTestWAL(t)

	seq, err := w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	_, err = w.LogUpdate(1, testRow("ada", 100), testRow("ada", 120))
	require.NoError(t, err)

	seq, err = w.LogDelete(1, testRow("ada", 120))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	require.NoError(t, w.Close())

	var entries []Entry
	require.NoError(t, Replay(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))

	require.Len(t, entries, 3)

	assert.Equal(t, OpInsert, entries[0].Type)
	assert.Equal(t, table.RowID(1), entries[0].RowID)
	require.Len(t, entries[0].Values, 2)
	assert.Equal(t, "ada", entries[0].Values[0].AsString())

	assert.Equal(t, OpUpdate, entries[1].Type)
	assert.Equal(t, int64(100), entries[1].OldValues[1].AsInt())
	assert.Equal(t, int64(120), entries[1].Values[1].AsInt())

	assert.Equal(t, OpDelete, entries[2].Type)
	assert.Equal(t, uint64(3), entries[2].SeqNum)
}

func TestWAL_Compressed(t *testing.T) {
	w, path := openTestWAL(t, func(o *Options) {
		o.Compress = true
	})

	for i := range 100 {
		_, err := w.LogInsert(table.RowID(i+1), testRow("worker", int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	var count int
	require.NoError(t, Replay(path, func(e Entry) error {
		count++
		assert.Equal(t, uint64(count), e.SeqNum)
		return nil
	}))
	assert.Equal(t, 100, count)
}

func TestWAL_SeqNumContinuesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	opt := func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilitySync
	}

	w, err := New(opt)
	require.NoError(t, err)
	_, err = w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	_, err = w.LogInsert(2, testRow("bob", 90))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = New(opt)
	require.NoError(t, err)
	defer w.Close()

	seq, err := w.LogDelete(1, testRow("ada", 100))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestWAL_CheckpointTruncates(t *testing.T) {
	w, path := openTestWAL(t)

	_, err := w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	_, err = w.LogInsert(2, testRow("bob", 90))
	require.NoError(t, err)

	require.NoError(t, w.Checkpoint())

	// Only records after the checkpoint survive, numbering continues.
	seq, err := w.LogInsert(3, testRow("cyd", 80))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, w.Sync())

	var entries []Entry
	require.NoError(t, Replay(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	require.Len(t, entries, 1)
	assert.Equal(t, table.RowID(3), entries[0].RowID)
	assert.Equal(t, uint64(3), entries[0].SeqNum)
}

func TestWAL_CheckpointKeepsCompressionLevel(t *testing.T) {
	w, path := openTestWAL(t, func(o *Options) {
		o.Compress = true
		o.CompressionLevel = 19
	})

	_, err := w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	require.NoError(t, w.Checkpoint())

	// Frames written after the checkpoint must use the configured level and
	// stay readable.
	assert.Equal(t, 19, w.level)
	for i := range 50 {
		_, err := w.LogInsert(table.RowID(i+2), testRow("worker", int64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	var count int
	require.NoError(t, Replay(path, func(e Entry) error {
		count++
		assert.Equal(t, uint64(count+1), e.SeqNum)
		return nil
	}))
	assert.Equal(t, 50, count)
}

func TestWAL_SeqNumSurvivesCheckpointAndReopen(t *testing.T) {
	dir := t.TempDir()
	opt := func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilitySync
	}

	w, err := New(opt)
	require.NoError(t, err)
	_, err = w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	_, err = w.LogInsert(2, testRow("bob", 90))
	require.NoError(t, err)
	require.NoError(t, w.Checkpoint())
	require.NoError(t, w.Close())

	// The truncated log holds no records, yet numbering must not restart:
	// a snapshot out there already claims sequence 2.
	w, err = New(opt)
	require.NoError(t, err)
	defer w.Close()

	seq, err := w.LogInsert(3, testRow("cyd", 80))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestWAL_ReplayStopsAtTornTail(t *testing.T) {
	w, path := openTestWAL(t)

	_, err := w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	_, err = w.LogInsert(2, testRow("bob", 90))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Chop bytes off the last record.
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, st.Size()-5))

	var entries []Entry
	require.NoError(t, Replay(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	require.Len(t, entries, 1)
	assert.Equal(t, table.RowID(1), entries[0].RowID)
}

func TestWAL_ReplayStopsAtCorruptChecksum(t *testing.T) {
	w, path := openTestWAL(t)

	_, err := w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)
	_, err = w.LogInsert(2, testRow("bob", 90))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a byte inside the second record's payload.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	firstLen := binary.LittleEndian.Uint32(data[headerSize:])
	off := headerSize + 8 + int(firstLen) + 8 // second record payload start
	data[off+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o600))

	var entries []Entry
	require.NoError(t, Replay(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	require.Len(t, entries, 1)
}

func TestWAL_ReplayMissingFile(t *testing.T) {
	called := false
	require.NoError(t, Replay(filepath.Join(t.TempDir(), "absent.wal"), func(Entry) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestWAL_GroupCommitFlushes(t *testing.T) {
	dir := t.TempDir()
	w, err := New(func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = 5 * time.Millisecond
	})
	require.NoError(t, err)
	defer w.Close()

	_, err = w.LogInsert(1, testRow("ada", 100))
	require.NoError(t, err)

	path := filepath.Join(dir, fileName)
	require.Eventually(t, func() bool {
		st, err := os.Stat(path)
		return err == nil && st.Size() > headerSize
	}, time.Second, 5*time.Millisecond)

	var entries []Entry
	require.NoError(t, Replay(path, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}))
	require.Len(t, entries, 1)
}

func TestWAL_CompressionFlagMismatch(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) { o.Path = dir; o.Compress = true })
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = New(func(o *Options) { o.Path = dir })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression flag mismatch")
}
