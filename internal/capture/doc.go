// Package capture opens recording sources and reads their raw stream in
// sequenced chunks.
//
// A Source yields Chunks with strictly increasing sequence numbers and returns
// io.EOF once its stream has ended. Two backends implement Opener: an FFmpeg
// subprocess that writes raw PCM or MPEG-TS to stdout (pulse/x11grab on Linux,
// dshow/gdigrab on Windows, avfoundation on macOS) and an in-process miniaudio
// backend (malgo) for microphone and WASAPI loopback capture. The backend is
// chosen by configuration; callers never type-switch on it.
//
// Errors are tagged with services markers: ErrDeviceUnavailable at open,
// ErrTransient for stalls the caller may retry, ErrDeviceDisconnected when the
// device goes away mid-stream.
package capture
