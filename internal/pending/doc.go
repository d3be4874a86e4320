// Package pending implements the per-identity queue of undelivered
// events consumed by polling clients.
//
// Retrieval is read-and-clear: Drain atomically swaps the stored queue
// with an empty one, closing the lost-update window between a concurrent
// enqueue and a concurrent drain. Queues grow without bound by design;
// the polling population is expected to drain regularly.
package pending
