// Package router implements message routing between identities and
// groups: persisting records to history, queueing for offline
// recipients, fanning out to group members, and notifying event
// subscribers with a signaling-channel fallback.
package router
