// Package persistence writes and reads full database snapshots and
// coordinates them with the write-ahead log.
//
// A snapshot is a single file: a fixed header naming the codec, a
// codec-encoded manifest (schema, row count, index definitions), an
// lz4-compressed row section and one serialized tree per index. Every
// section carries its own CRC32, so corruption is detected at load time
// instead of surfacing as wrong query results later.
package persistence
