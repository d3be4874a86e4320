// Package call coordinates call signaling: starting a call pushes an
// incoming-call event through the delivery fallback chain, accepting
// one relays the answer over the signaling transport, and ending one
// notifies both parties best effort.
package call
