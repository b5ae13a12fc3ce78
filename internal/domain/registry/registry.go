// Package registry implements the broker's core: the process-wide tables of
// channels, users and connections (spec.md §4.1 "Registry"), the presence
// and history bookkeeping of a channel (§4.2), user state (§4.3), the
// per-connection delivery queue (§4.4), message fan-out (§4.5), and idle
// garbage collection (§4.7).
//
// Every exported Registry method that mutates state does so under a single
// coarse lock, matching the "single serialization discipline" spec.md §4.1
// calls for and the concurrency model in §5. Registry values are meant to be
// constructed per-process (or per-test) rather than held as package-level
// globals — see spec.md §9's "Process-wide state" design note.
package registry

import (
	"sync"
	"time"

	"github.com/channelstream/broker/internal/domain/model"
)

// Registry is the broker's single source of truth.
type Registry struct {
	mu sync.RWMutex

	channels    map[string]*model.Channel
	users       map[string]*model.User
	connections map[string]*model.Connection
	stats       model.Stats

	// members is a reverse index from channel name to the connections
	// currently subscribed to it, so fan-out doesn't have to scan every
	// connection in the registry. Kept in lockstep with Connection.Channels
	// by every method that changes subscription state.
	members map[string]map[string]*model.Connection
}

func New() *Registry {
	return &Registry{
		channels:    make(map[string]*model.Channel),
		users:       make(map[string]*model.User),
		connections: make(map[string]*model.Connection),
		members:     make(map[string]map[string]*model.Connection),
		stats:       model.NewStats(),
	}
}

// LookupChannel returns a channel by name without creating it.
func (r *Registry) LookupChannel(name string) (*model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// LookupUser returns a user by name without creating it.
func (r *Registry) LookupUser(name string) (*model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[name]
	return u, ok
}

// LookupConnection returns a connection by id without creating it.
func (r *Registry) LookupConnection(id string) (*model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// Stats returns a copy of the current process-wide counters.
func (r *Registry) Stats() model.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Counts returns the number of known users, connections and channels.
func (r *Registry) Counts() (users, connections, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.connections), len(r.channels)
}

// ActiveUserCount returns the number of users with at least one active
// connection, distinct from the "remembered" total in Counts (spec.md §3's
// zero-connection users are retained, not removed).
func (r *Registry) ActiveUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.users {
		if u.ConnectionCount() > 0 {
			n++
		}
	}
	return n
}

// ChannelNames returns a snapshot of every known channel name.
func (r *Registry) ChannelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

// ensureChannelLocked returns the channel, creating it with cfg if it
// doesn't exist. cfg is applied only on creation (spec.md §9 Open Question
// 3) — the caller must hold r.mu for writing.
func (r *Registry) ensureChannelLocked(name string, cfg model.ChannelConfig) (*model.Channel, bool) {
	if c, ok := r.channels[name]; ok {
		return c, false
	}
	c := model.NewChannel(name, cfg)
	r.channels[name] = c
	return c, true
}

// ensureUserLocked returns the user, creating it if it doesn't exist. It
// reports whether the user was freshly created.
func (r *Registry) ensureUserLocked(username string) (*model.User, bool) {
	if u, ok := r.users[username]; ok {
		return u, false
	}
	u := model.NewUser(username)
	r.users[username] = u
	return u, true
}

// addMemberLocked records conn as subscribed to channel in the reverse index.
func (r *Registry) addMemberLocked(channel string, conn *model.Connection) {
	set, ok := r.members[channel]
	if !ok {
		set = make(map[string]*model.Connection)
		r.members[channel] = set
	}
	set[conn.ID] = conn
}

// removeMemberLocked drops conn from channel's reverse index entry, deleting
// the entry entirely once it's empty.
func (r *Registry) removeMemberLocked(channel string, connID string) {
	set, ok := r.members[channel]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.members, channel)
	}
}

// membersOfLocked returns the connections currently subscribed to channel.
func (r *Registry) membersOfLocked(channel string) []*model.Connection {
	set := r.members[channel]
	out := make([]*model.Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// now is overridable in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now().UTC() }
