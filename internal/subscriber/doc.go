// Package subscriber tracks the push capabilities of transports that
// support asynchronous delivery.
//
// The table is self-healing: a push failure invalidates the entry
// immediately, and callers fall back to the signaling channel or the
// pending queue. Staleness between a dead transport and its first failed
// push is tolerated.
package subscriber
