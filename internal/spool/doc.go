// Package spool moves captured chunks from a source's capture task to a
// temporary file on disk.
//
// Each Spooler owns a bounded FIFO and one writer goroutine. Producers block
// for at most the backpressure timeout when the FIFO is full; after that the
// oldest queued chunk is dropped and counted. The writer appends payloads in
// sequence order, so the bytes on disk are always a prefix of the accepted,
// non-dropped chunks. Drain closes intake and waits, within a deadline, for
// the file to be flushed and synced.
//
// The package also owns the per-session spool directory layout and the YAML
// manifest that lets a failed merge be retried later.
package spool
