// Package model holds the plain data types shared by the registry and the
// transport handlers: envelopes, channels, users, connections and stats.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is a single routed message. Message carries arbitrary JSON and is
// never interpreted by the broker itself.
type Envelope struct {
	UUID      string    `json:"uuid"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	User      string    `json:"user"`
	Channel   string    `json:"channel,omitempty"`
	PMUsers   []string  `json:"pm_users,omitempty"`
	// Action carries "joined"/"parted" for presence envelopes (spec.md §4.2)
	// and is empty for ordinary messages.
	Action    string   `json:"action,omitempty"`
	Users     []string `json:"users,omitempty"`
	Message   any      `json:"message"`
	NoHistory bool     `json:"no_history,omitempty"`
	// Extra holds any additional keys the envelope carries beyond the ones
	// above, passed through transparently (spec.md §3: "any additional
	// keys accepted transparently"). Populated by UnmarshalJSON, re-emitted
	// by MarshalJSON.
	Extra map[string]any `json:"-"`
}

// envelopeFields lists the JSON keys Envelope already has a typed field
// for, so (Un)MarshalJSON can tell "known" from "extra" apart.
var envelopeFields = map[string]struct{}{
	"uuid": {}, "timestamp": {}, "type": {}, "user": {}, "channel": {},
	"pm_users": {}, "action": {}, "users": {}, "message": {}, "no_history": {},
}

// envelopeAlias has the same shape as Envelope but none of its methods, so
// marshaling/unmarshaling it doesn't recurse into Envelope's own
// (Un)MarshalJSON.
type envelopeAlias Envelope

// UnmarshalJSON decodes the known fields normally, then captures any
// remaining keys into Extra.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var alias envelopeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*e = Envelope(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if _, known := envelopeFields[key]; known {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[key] = v
	}
	return nil
}

// MarshalJSON encodes the known fields normally, then merges Extra's keys
// alongside them so additional client-supplied fields round-trip.
func (e Envelope) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(envelopeAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+len(envelopeFields))
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(known, &decoded); err != nil {
		return nil, err
	}
	for k, v := range decoded {
		merged[k] = v
	}
	for k, v := range e.Extra {
		if _, known := envelopeFields[k]; known {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}

const SystemUser = "system"

// Normalize fills in server-assigned fields (uuid, timestamp, type) in place
// and reports whether it had to assign a fresh uuid.
func (e *Envelope) Normalize(now time.Time) (assignedUUID bool) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
		assignedUUID = true
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.Type == "" {
		e.Type = "message"
	}
	return assignedUUID
}

// HasRoute reports whether the envelope carries at least one of channel or
// pm_users, per the data-model invariant in spec.md §3.
func (e *Envelope) HasRoute() bool {
	return e.Channel != "" || len(e.PMUsers) > 0
}

// Clone returns a shallow copy safe to hand to a different recipient without
// aliasing the original's PMUsers slice.
func (e Envelope) Clone() Envelope {
	if len(e.PMUsers) > 0 {
		pm := make([]string, len(e.PMUsers))
		copy(pm, e.PMUsers)
		e.PMUsers = pm
	}
	return e
}

// NewPresenceEnvelope builds a join/part presence envelope for a channel,
// matching the shape spec.md §4.2 documents: action and (optionally) the
// current user list sit at the envelope's top level, not nested in message.
func NewPresenceEnvelope(channel, user, action string, users []string) Envelope {
	return Envelope{
		Type:    "presence",
		User:    user,
		Channel: channel,
		Action:  action,
		Users:   users,
		Message: map[string]any{},
	}
}

// UserStateChangeMessage is the payload broadcast when a user's state changes.
type UserStateChangeMessage struct {
	User         string         `json:"user"`
	ChangedState map[string]any `json:"changed_state"`
	PublicState  map[string]any `json:"public_state"`
}

func NewUserStateChangeEnvelope(channel, user string, changed, public map[string]any) Envelope {
	return Envelope{
		Type:    "user_state_change",
		User:    user,
		Channel: channel,
		Message: UserStateChangeMessage{User: user, ChangedState: changed, PublicState: public},
	}
}
