// Package ws is the WebSocket signaling and audio transport. A client
// connects to /ws/<identity> and exchanges pipe-delimited text frames
// (SIGNAL, START_STREAM, STOP_STREAM) plus raw binary audio frames.
// The connection table doubles as the delivery signaling channel and
// the audio relay's frame sink.
package ws
