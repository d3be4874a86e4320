// Package group implements the persisted group-membership registry used
// by the fan-out router.
//
// Membership mutations are write-through: the full snapshot is saved
// before the call returns. Group churn is low-frequency, so the snapshot
// cost is acceptable.
package group
