// Package delivery implements a fallback chain for getting an event to
// a recipient: a direct push to a live subscriber, then an out-of-band
// signaling transport, then the pending queue as a catch-all.
package delivery
