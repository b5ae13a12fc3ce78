package model

import "time"

// User is the logical identity described in spec.md §3/§4.3. Like Channel,
// it carries no lock of its own — all mutation happens under the Registry's
// lock.
type User struct {
	Username        string
	StatePublicKeys []string
	LastHeartbeat   time.Time

	stateKeys []string // insertion order, for the "ordered mapping" invariant
	state     map[string]any
	conns     map[string]struct{}
}

func NewUser(username string) *User {
	return &User{
		Username:      username,
		state:         make(map[string]any),
		conns:         make(map[string]struct{}),
		LastHeartbeat: time.Now().UTC(),
	}
}

// State returns a snapshot of the full state map. The returned Go map does
// not preserve the insertion order tracked in stateKeys.
func (u *User) State() map[string]any {
	out := make(map[string]any, len(u.state))
	for _, k := range u.stateKeys {
		out[k] = u.state[k]
	}
	return out
}

// ChangeState merges patch into state key by key. A nil value removes the
// key. It returns the keys whose value actually changed (new, removed, or
// different), used by the caller to decide whether to broadcast.
func (u *User) ChangeState(patch map[string]any) []string {
	var changed []string
	for k, v := range patch {
		if v == nil {
			if _, ok := u.state[k]; ok {
				delete(u.state, k)
				u.removeStateKey(k)
				changed = append(changed, k)
			}
			continue
		}
		old, existed := u.state[k]
		if !existed {
			u.stateKeys = append(u.stateKeys, k)
		}
		if !existed || !deepEqual(old, v) {
			changed = append(changed, k)
		}
		u.state[k] = v
	}
	return changed
}

func (u *User) removeStateKey(k string) {
	for i, key := range u.stateKeys {
		if key == k {
			u.stateKeys = append(u.stateKeys[:i], u.stateKeys[i+1:]...)
			return
		}
	}
}

// deepEqual is a conservative equality check for the JSON-ish scalar values
// state usually holds. Maps and slices are not comparable with ==, and
// treating them as "always changed" is the safe default for deciding whether
// to broadcast a state update.
func deepEqual(a, b any) bool {
	if !comparable(a) || !comparable(b) {
		return false
	}
	return a == b
}

func comparable(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

// PublicView projects state down to the keys in StatePublicKeys.
func (u *User) PublicView() map[string]any {
	out := make(map[string]any, len(u.StatePublicKeys))
	for _, k := range u.StatePublicKeys {
		if v, ok := u.state[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (u *User) AddConnection(connID string) { u.conns[connID] = struct{}{} }

func (u *User) RemoveConnection(connID string) { delete(u.conns, connID) }

func (u *User) ConnectionCount() int { return len(u.conns) }

func (u *User) ConnectionIDs() []string {
	out := make([]string, 0, len(u.conns))
	for id := range u.conns {
		out = append(out, id)
	}
	return out
}
