package registry

import "time"

// SweepIdle implements spec.md §4.7: detach every connection that has been
// idle longer than threshold, exactly as if it had called disconnect. It
// returns the ids of the connections reaped, for logging by the caller.
func (r *Registry) SweepIdle(threshold time.Duration) []string {
	cutoff := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []string
	for id, conn := range r.connections {
		if conn.IdleFor(cutoff) >= threshold {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		r.disconnectLocked(id)
	}
	return idle
}
