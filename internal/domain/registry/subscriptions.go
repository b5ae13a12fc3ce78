package registry

import (
	"github.com/channelstream/broker/internal/domain/model"
)

// subscribeLocked subscribes conn to channels, creating any that don't
// exist yet (applying configs only to channels it creates, per spec.md §9
// Open Question 3). It returns the channels conn was not already on, and
// emits join presence envelopes for any channel with notify_presence where
// this was the user's first connection there.
func (r *Registry) subscribeLocked(conn *model.Connection, channels []string, configs map[string]model.ChannelConfig) []string {
	var newlySubscribed []string
	for _, name := range channels {
		if _, already := conn.Channels[name]; already {
			continue
		}
		cfg := configs[name]
		if cfg.HistorySize == 0 {
			cfg = model.NewChannelConfig().Merge(cfg)
		}
		ch, _ := r.ensureChannelLocked(name, cfg)

		conn.Channels[name] = struct{}{}
		r.addMemberLocked(name, conn)
		joined := ch.AddConnection(conn.Username)
		newlySubscribed = append(newlySubscribed, name)

		if joined && ch.Config.NotifyPresence {
			r.emitPresenceLocked(ch, conn.Username, "joined")
		}
	}
	return newlySubscribed
}

// unsubscribeLocked removes conn from channels it is currently on. It
// returns the channels actually left, and emits part presence envelopes and
// reaps non-salvageable empty channels exactly like the GC path does.
func (r *Registry) unsubscribeLocked(conn *model.Connection, channels []string) []string {
	var left []string
	for _, name := range channels {
		if _, subscribed := conn.Channels[name]; !subscribed {
			continue
		}
		delete(conn.Channels, name)
		r.removeMemberLocked(name, conn.ID)
		left = append(left, name)

		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		parted, empty := ch.RemoveConnection(conn.Username)
		if parted && ch.Config.NotifyPresence {
			r.emitPresenceLocked(ch, conn.Username, "parted")
		}
		if empty && !ch.Config.Salvageable {
			delete(r.channels, name)
			delete(r.members, name)
		}
	}
	return left
}

// emitPresenceLocked builds and fans out a presence envelope to channel's
// current members (spec.md §4.2).
func (r *Registry) emitPresenceLocked(ch *model.Channel, user, action string) {
	var users []string
	if ch.Config.BroadcastPresenceWithUserLists {
		users = ch.Users()
	}
	env := model.NewPresenceEnvelope(ch.Name, user, action, users)
	r.deliverLocked(ch, env)
}

// Connect implements spec.md §4.8 connect: create-or-fetch the user, apply
// fresh/updated state and public keys, create-or-fetch the named channels,
// then create the connection and subscribe it to all of them.
func (r *Registry) Connect(connID, username string, channels []string, configs map[string]model.ChannelConfig, freshState, updateState map[string]any, publicKeys []string, hasPublicKeys bool) (*model.Connection, *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, created := r.ensureUserLocked(username)
	if created && len(freshState) > 0 {
		user.ChangeState(freshState)
	}
	if len(updateState) > 0 {
		user.ChangeState(updateState)
	}
	if hasPublicKeys {
		user.StatePublicKeys = publicKeys
	}

	conn := model.NewConnection(connID, username)
	r.connections[connID] = conn
	user.AddConnection(connID)

	r.subscribeLocked(conn, channels, configs)

	return conn, user
}

// Subscribe implements spec.md §4.8 subscribe.
func (r *Registry) Subscribe(connID string, channels []string, configs map[string]model.ChannelConfig) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil
	}
	return r.subscribeLocked(conn, channels, configs)
}

// Unsubscribe implements spec.md §4.8 unsubscribe.
func (r *Registry) Unsubscribe(connID string, channels []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		return nil
	}
	return r.unsubscribeLocked(conn, channels)
}

// ConnectionChannels returns the channels a connection currently subscribes
// to, or nil if it doesn't exist.
func (r *Registry) ConnectionChannels(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conn.Channels))
	for name := range conn.Channels {
		out = append(out, name)
	}
	return out
}

// Disconnect implements spec.md §4.7's explicit client-initiated teardown:
// detach the connection from its user, leave every subscribed channel
// (emitting part presence and reaping non-salvageable empties), and drop it
// from the connection table. Returns false if the connection didn't exist.
func (r *Registry) Disconnect(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnectLocked(connID)
}

func (r *Registry) disconnectLocked(connID string) bool {
	conn, ok := r.connections[connID]
	if !ok {
		return false
	}

	channels := make([]string, 0, len(conn.Channels))
	for name := range conn.Channels {
		channels = append(channels, name)
	}
	r.unsubscribeLocked(conn, channels)

	if user, ok := r.users[conn.Username]; ok {
		user.RemoveConnection(connID)
		// A user with zero connections is "remembered", not removed
		// (spec.md §3 User invariant) — only explicit unregistration
		// (not modeled here; no such RPC exists in spec.md §4.8) removes it.
	}
	delete(r.connections, connID)
	return true
}

// ChannelConfig implements spec.md §4.8 channel_config: apply configuration
// to named channels, creating them if missing. Unlike connect/subscribe,
// this always applies the given config (creation or not) — it is the one
// RPC whose purpose is reconfiguration (spec.md §9 Open Question 3).
//
// The given config fully replaces the channel's configuration (layered
// over the documented defaults for any field the caller didn't set, via
// Merge against a fresh default baseline) rather than being OR'd onto
// whatever config the channel already had. OR-ing booleans onto a live
// config would make a previously-enabled option impossible to turn back
// off through this RPC, defeating its reconfiguration purpose.
func (r *Registry) ChannelConfig(configs map[string]model.ChannelConfig) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(configs))
	for name, patch := range configs {
		ch, _ := r.ensureChannelLocked(name, model.NewChannelConfig())
		ch.Config = model.NewChannelConfig().Merge(patch)
		names = append(names, name)
	}
	return names
}

// UserState implements spec.md §4.8 user_state: mutate the user and, if any
// key's value actually changed, broadcast one user_state_change envelope
// (carrying every changed key) to each channel the user is subscribed to
// with notify_state enabled. Unknown users are a silent no-op (spec.md §7).
func (r *Registry) UserState(username string, patch map[string]any, publicKeys []string, hasPublicKeys bool) ([]string, *model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return nil, nil, false
	}
	if hasPublicKeys {
		user.StatePublicKeys = publicKeys
	}
	changed := user.ChangeState(patch)
	if len(changed) == 0 {
		return changed, user, true
	}

	changedState := make(map[string]any, len(changed))
	full := user.State()
	for _, k := range changed {
		changedState[k] = full[k]
	}
	public := user.PublicView()

	notified := make(map[string]struct{})
	for _, connID := range user.ConnectionIDs() {
		conn, ok := r.connections[connID]
		if !ok {
			continue
		}
		for name := range conn.Channels {
			if _, done := notified[name]; done {
				continue
			}
			ch, ok := r.channels[name]
			if !ok || !ch.Config.NotifyState {
				continue
			}
			notified[name] = struct{}{}
			env := model.NewUserStateChangeEnvelope(name, username, changedState, public)
			r.deliverLocked(ch, env)
		}
	}
	return changed, user, true
}

// Info implements spec.md §4.1/§6's read-only topology query.
func (r *Registry) Info(opts model.InfoOptions) (map[string]model.ChannelInfo, []model.UserInfo) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := make(map[string]struct{}, len(opts.ExcludeChannels))
	for _, n := range opts.ExcludeChannels {
		excluded[n] = struct{}{}
	}

	var names []string
	if len(opts.Channels) > 0 {
		names = opts.Channels
	} else {
		for n := range r.channels {
			names = append(names, n)
		}
	}

	channelsOut := make(map[string]model.ChannelInfo, len(names))
	usersToList := make(map[string]struct{})
	for _, name := range names {
		if _, skip := excluded[name]; skip {
			continue
		}
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		info := model.ChannelInfo{Name: ch.Name, Config: ch.Config}
		if opts.IncludeUsers {
			info.Users = ch.Users()
			for _, u := range info.Users {
				usersToList[u] = struct{}{}
			}
		}
		if opts.IncludeHistory {
			info.History = ch.History(0)
		}
		channelsOut[name] = info
	}

	users := make([]model.UserInfo, 0, len(usersToList))
	for username := range usersToList {
		u, ok := r.users[username]
		if !ok {
			continue
		}
		ui := model.UserInfo{User: username}
		if opts.ReturnPublicState {
			ui.PublicState = u.PublicView()
		} else {
			ui.State = u.State()
		}
		if opts.IncludeConnections {
			ui.Connections = u.ConnectionIDs()
		}
		users = append(users, ui)
	}
	return channelsOut, users
}
