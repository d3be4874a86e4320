// Package presence implements the session registry: who is online, over
// which transport handle, and the permanent set of identities ever seen.
//
// The registry:
//   - Replaces a session's transport handle in place on reconnect
//   - Broadcasts joined/reconnected/left/deleted system notices
//   - Persists the known-identity set through the registry store
//   - Publishes presence transitions for consumers holding per-identity
//     resources (e.g. the audio relay's stream bindings)
package presence
