// Package model defines the shared data types of the relay core.
//
// The core types:
//   - Event: the tagged-variant payload pushed to clients over any transport
//   - HistoryRecord: one immutable line in a conversation log
//   - CallRecord: a call attempt with its structured call ID token
//
// Transports encode and decode these types at their boundary; core
// operations never take raw delimited strings.
package model
