// Package store defines the persistence collaborators of the relay core
// and provides the default file-backed implementations.
//
// The file layout mirrors the relay's data directory:
//   - history/<key>.jsonl: one JSON record per line, append-only
//   - users.txt: one known identity per line
//   - groups.txt: one "name:member,member" line per group
//   - media/: voice-note blobs
//
// Writers to the same history file are serialized with a per-key lock;
// unrelated keys never contend.
package store
