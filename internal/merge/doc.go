// Package merge turns a session's spool files into one deliverable file.
//
// The Pipeline hands a Job to an Encoder, normally FFmpeg run as an opaque
// subprocess with a deterministic argument list. The encoder writes into the
// session's work directory; only a zero exit with a non-empty file is moved
// into the output directory under a collision-free name. A non-zero exit
// becomes services.ErrMergeFailed and an expired deadline becomes
// services.ErrMergeTimedOut. Spool files are never touched here.
package merge
