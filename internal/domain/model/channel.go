package model

import "time"

// ChannelConfig holds the optional, per-channel behavior switches from
// spec.md §3. Zero value matches the documented defaults except HistorySize,
// which callers should set via NewChannelConfig.
type ChannelConfig struct {
	NotifyPresence                 bool `json:"notify_presence"`
	NotifyState                    bool `json:"notify_state"`
	BroadcastPresenceWithUserLists bool `json:"broadcast_presence_with_user_lists"`
	StoreHistory                   bool `json:"store_history"`
	HistorySize                    int  `json:"history_size"`
	Salvageable                    bool `json:"salvageable"`
}

const DefaultHistorySize = 10

// NewChannelConfig returns the spec-mandated defaults.
func NewChannelConfig() ChannelConfig {
	return ChannelConfig{HistorySize: DefaultHistorySize}
}

// Merge applies a partial configuration on top of c, treating a zero
// HistorySize in patch as "unset" rather than "set to zero".
func (c ChannelConfig) Merge(patch ChannelConfig) ChannelConfig {
	out := c
	out.NotifyPresence = patch.NotifyPresence || c.NotifyPresence
	out.NotifyState = patch.NotifyState || c.NotifyState
	out.BroadcastPresenceWithUserLists = patch.BroadcastPresenceWithUserLists || c.BroadcastPresenceWithUserLists
	out.StoreHistory = patch.StoreHistory || c.StoreHistory
	out.Salvageable = patch.Salvageable || c.Salvageable
	if patch.HistorySize > 0 {
		out.HistorySize = patch.HistorySize
	}
	return out
}

// Channel is the fan-out group described in spec.md §3/§4.2. Every field is
// mutated only while the owning Registry's lock is held — Channel has no
// lock of its own, matching the "single serialization discipline" in §4.1.
type Channel struct {
	Name      string
	Config    ChannelConfig
	CreatedAt time.Time

	// presence counts live connections per user currently subscribed, so a
	// user with two connections in the channel only leaves presence when
	// both detach.
	presence map[string]int
	history  []Envelope
}

func NewChannel(name string, cfg ChannelConfig) *Channel {
	return &Channel{
		Name:      name,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
		presence:  make(map[string]int),
	}
}

// AddConnection records user as present on the channel. It reports whether
// this is the user's first connection here (i.e. a join).
func (c *Channel) AddConnection(user string) (joined bool) {
	c.presence[user]++
	return c.presence[user] == 1
}

// RemoveConnection drops one of user's connections from the channel. It
// reports whether the user has now fully left (a part) and whether the
// channel has no presence left at all.
func (c *Channel) RemoveConnection(user string) (parted, empty bool) {
	n, ok := c.presence[user]
	if !ok {
		return false, len(c.presence) == 0
	}
	n--
	if n <= 0 {
		delete(c.presence, user)
		parted = true
	} else {
		c.presence[user] = n
	}
	return parted, len(c.presence) == 0
}

// Users returns a snapshot of the users currently present.
func (c *Channel) Users() []string {
	out := make([]string, 0, len(c.presence))
	for u := range c.presence {
		out = append(out, u)
	}
	return out
}

// IsPresent reports whether user has at least one connection subscribed.
func (c *Channel) IsPresent(user string) bool {
	return c.presence[user] > 0
}

// AppendHistory stores env per the channel's history config (§4.2).
func (c *Channel) AppendHistory(env Envelope) {
	if !c.Config.StoreHistory || env.NoHistory {
		return
	}
	c.history = append(c.history, env)
	size := c.Config.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	if over := len(c.history) - size; over > 0 {
		c.history = c.history[over:]
	}
}

// EditHistory replaces the message field of the envelope matching uuid.
// A miss is a silent no-op (spec.md §7).
func (c *Channel) EditHistory(uuid string, newMessage any) (Envelope, bool) {
	for i := range c.history {
		if c.history[i].UUID == uuid {
			c.history[i].Message = newMessage
			return c.history[i], true
		}
	}
	return Envelope{}, false
}

// DeleteHistory removes the envelope matching uuid, if any.
func (c *Channel) DeleteHistory(uuid string) bool {
	for i := range c.history {
		if c.history[i].UUID == uuid {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return true
		}
	}
	return false
}

// History returns the last n history entries (all of them if n <= 0),
// oldest first.
func (c *Channel) History(n int) []Envelope {
	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	start := len(c.history) - n
	out := make([]Envelope, n)
	copy(out, c.history[start:])
	return out
}
