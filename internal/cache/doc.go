// Package cache keeps rendered artifacts on disk and refreshes them through a
// render pipeline once they are older than the TTL.
//
// Each key maps to one entry file whose mtime is the time of the last
// successful render. Fresh entries are served without locking. Refreshes
// take an exclusive per-key lock and replace the entry with an atomic
// rename, so readers see either the old or the new artifact.
//
// A key whose document is not found is reported as not found, but an
// existing entry for it is kept as is.
package cache
