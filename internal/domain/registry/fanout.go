package registry

import (
	"time"

	"github.com/channelstream/broker/internal/domain/model"
)

// deliverLocked fans env out to every connection currently subscribed to ch,
// without touching history or stats — used for presence and user_state_change
// envelopes, which are never persisted or counted as "messages" (spec.md §4.2/§4.3).
func (r *Registry) deliverLocked(ch *model.Channel, env model.Envelope) {
	for _, conn := range r.membersOfLocked(ch.Name) {
		conn.Enqueue([]model.Envelope{env})
	}
}

// recipientsLocked computes the deduplicated set of connections that should
// receive env: every member of env.Channel plus every connection belonging
// to env.PMUsers, deduplicated by connection id (spec.md §4.5).
func (r *Registry) recipientsLocked(env model.Envelope) []*model.Connection {
	seen := make(map[string]*model.Connection)
	if env.Channel != "" {
		for _, conn := range r.membersOfLocked(env.Channel) {
			seen[conn.ID] = conn
		}
	}
	for _, username := range env.PMUsers {
		u, ok := r.users[username]
		if !ok {
			continue
		}
		for _, connID := range u.ConnectionIDs() {
			if conn, ok := r.connections[connID]; ok {
				seen[conn.ID] = conn
			}
		}
	}
	out := make([]*model.Connection, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}

// PassMessage implements spec.md §4.5/§4.8 message: assigns a uuid/timestamp
// if the caller didn't supply one, stores it in channel history (if
// applicable), updates process-wide counters, and enqueues it to every
// deduplicated recipient. Returns the normalized envelope as stored.
func (r *Registry) PassMessage(env model.Envelope) model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	env.Normalize(now())
	r.stats.TotalUniqueMessages++

	if env.Channel != "" {
		if ch, ok := r.channels[env.Channel]; ok {
			ch.AppendHistory(env)
		}
	}

	recipients := r.recipientsLocked(env)
	for _, conn := range recipients {
		conn.Enqueue([]model.Envelope{env})
	}
	r.stats.TotalMessages += int64(len(recipients))

	return env
}

// EditMessage implements spec.md §4.8 edit_message: locates the envelope by
// channel and uuid, replaces its message payload, and delivers a
// "message:edit" envelope to the envelope's current recipients (the
// channel's present subscribers plus the connections of its pm_users).
// A miss on an unknown channel or uuid is a silent no-op (spec.md §7).
func (r *Registry) EditMessage(channel, uuid string, newMessage any) (model.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return model.Envelope{}, false
	}
	edited, ok := ch.EditHistory(uuid, newMessage)
	if !ok {
		return model.Envelope{}, false
	}

	notice := edited.Clone()
	notice.Type = "message:edit"

	for _, conn := range r.recipientsLocked(edited) {
		conn.Enqueue([]model.Envelope{notice})
	}
	return edited, true
}

// DeleteMessage implements spec.md §4.8 delete_message, mirroring
// EditMessage's lookup and re-delivery semantics for a "message:delete" notice.
func (r *Registry) DeleteMessage(channel, uuid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channel]
	if !ok {
		return false
	}

	var target model.Envelope
	for _, e := range ch.History(0) {
		if e.UUID == uuid {
			target = e
			break
		}
	}
	if !ch.DeleteHistory(uuid) {
		return false
	}

	notice := model.Envelope{
		UUID:      uuid,
		Timestamp: time.Now().UTC(),
		Type:      "message:delete",
		User:      target.User,
		Channel:   channel,
		PMUsers:   target.PMUsers,
		Message:   map[string]any{"uuid": uuid},
	}
	for _, conn := range r.recipientsLocked(notice) {
		conn.Enqueue([]model.Envelope{notice})
	}
	return true
}
