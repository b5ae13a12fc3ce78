// Package service implements the control-plane operations of spec.md §4.8,
// wiring the registry's synchronous state machine to the asynchronous
// message/edit/delete dispatch described in §4.8 ("validation is
// synchronous; delivery is spawned asynchronously").
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/channelstream/broker/internal/bus"
	"github.com/channelstream/broker/internal/domain/model"
	"github.com/channelstream/broker/internal/domain/registry"
)

// Operations is the control-plane surface the HTTP/long-poll/websocket
// handlers talk to. It exists as an interface so handler tests can fake it.
type Operations interface {
	Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error)
	Subscribe(ctx context.Context, connID string, req SubscribeRequest) (SubscribeResponse, error)
	Unsubscribe(ctx context.Context, connID string, req UnsubscribeRequest) (UnsubscribeResponse, error)
	Disconnect(ctx context.Context, connID string) error
	Message(ctx context.Context, env model.Envelope) error
	EditMessage(ctx context.Context, channel, uuid string, message any) error
	DeleteMessage(ctx context.Context, channel, uuid string) error
	UserState(ctx context.Context, username string, patch map[string]any, publicKeys []string, hasPublicKeys bool) (UserStateResponse, error)
	ChannelConfig(ctx context.Context, configs map[string]model.ChannelConfig) ([]string, error)
	Info(ctx context.Context, opts model.InfoOptions) (InfoResponse, error)
	AdminStats(ctx context.Context) (AdminStatsResponse, error)
}

// AdminStatsResponse is the supplemented admin endpoint's payload (see
// SPEC_FULL.md's SUPPLEMENTED FEATURES — grounded on the original
// channelstream's admin_json view, data only, no HTML).
type AdminStatsResponse struct {
	RememberedUserCount int64     `json:"remembered_user_count"`
	UniqueUserCount     int64     `json:"unique_user_count"`
	TotalConnections    int64     `json:"total_connections"`
	TotalChannels       int64     `json:"total_channels"`
	TotalMessages       int64     `json:"total_messages"`
	TotalUniqueMessages int64     `json:"total_unique_messages"`
	Channels            []string  `json:"channels"`
	UptimeSeconds       float64   `json:"uptime_seconds"`
}

// Service is the concrete Operations implementation.
type Service struct {
	reg *registry.Registry
	bus *bus.Bus
}

func New(reg *registry.Registry, b *bus.Bus) *Service {
	return &Service{reg: reg, bus: b}
}

// ConnectRequest/Response, Subscribe/Unsubscribe request/response, and
// UserStateResponse/InfoResponse are the wire-shaped DTOs decoded and
// encoded by the HTTP handlers (spec.md §4.8/§6).
type ConnectRequest struct {
	ConnID          string                         `json:"conn_id"`
	Username        string                         `json:"username"`
	Channels        []string                       `json:"channels"`
	ChannelConfigs  map[string]model.ChannelConfig `json:"channel_configs"`
	FreshUserState  map[string]any                 `json:"fresh_user_state"`
	UserState       map[string]any                 `json:"user_state"`
	StatePublicKeys []string                       `json:"state_public_keys"`
	HasPublicKeys   bool                            `json:"-"`
	Info            model.InfoOptions               `json:"info"`
}

// ConnectResponse matches spec.md §6's documented /connect reply shape.
type ConnectResponse struct {
	ConnID      string                       `json:"conn_id"`
	Username    string                       `json:"username"`
	State       map[string]any               `json:"state"`
	PublicState map[string]any               `json:"public_state"`
	Channels    []string                     `json:"channels"`
	ChannelsInfo map[string]model.ChannelInfo `json:"channels_info"`
}

type SubscribeRequest struct {
	Channels       []string                       `json:"channels"`
	ChannelConfigs map[string]model.ChannelConfig `json:"channel_configs"`
	Info           model.InfoOptions              `json:"info"`
}

type SubscribeResponse struct {
	Channels     []string                     `json:"channels"`
	ChannelsInfo map[string]model.ChannelInfo `json:"channels_info"`
	SubscribedTo []string                     `json:"subscribed_to"`
}

type UnsubscribeRequest struct {
	Channels []string          `json:"channels"`
	Info     model.InfoOptions `json:"info"`
}

type UnsubscribeResponse struct {
	Channels       []string                     `json:"channels"`
	ChannelsInfo   map[string]model.ChannelInfo `json:"channels_info"`
	UnsubscribedFrom []string                   `json:"unsubscribed_from"`
}

type UserStateResponse struct {
	UserState    map[string]any `json:"user_state"`
	ChangedState []string       `json:"changed_state"`
	PublicKeys   []string       `json:"public_keys"`
}

type InfoResponse struct {
	Channels map[string]model.ChannelInfo `json:"channels"`
	Users    []model.UserInfo             `json:"users"`
}

func (s *Service) Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	// spec.md §3/§4.8: conn_id is an opaque identifier supplied by the
	// control plane. Only mint a fresh one when the caller didn't supply a
	// usable one (matching the original's "the client doesn't have to pass
	// one" fallback).
	connID := req.ConnID
	if connID == "" {
		connID = newConnID()
	}
	conn, user := s.reg.Connect(connID, req.Username, req.Channels, req.ChannelConfigs, req.FreshUserState, req.UserState, req.StatePublicKeys, req.HasPublicKeys)
	channels := sortedCopy(s.reg.ConnectionChannels(conn.ID))
	return ConnectResponse{
		ConnID:       conn.ID,
		Username:     user.Username,
		State:        user.State(),
		PublicState:  user.PublicView(),
		Channels:     channels,
		ChannelsInfo: s.channelsInfo(channels, req.Info),
	}, nil
}

func (s *Service) Subscribe(ctx context.Context, connID string, req SubscribeRequest) (SubscribeResponse, error) {
	if _, ok := s.reg.LookupConnection(connID); !ok {
		return SubscribeResponse{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	newlySubscribed := sortedCopy(s.reg.Subscribe(connID, req.Channels, req.ChannelConfigs))
	channels := sortedCopy(s.reg.ConnectionChannels(connID))
	return SubscribeResponse{
		Channels:     channels,
		ChannelsInfo: s.channelsInfo(channels, req.Info),
		SubscribedTo: newlySubscribed,
	}, nil
}

func (s *Service) Unsubscribe(ctx context.Context, connID string, req UnsubscribeRequest) (UnsubscribeResponse, error) {
	if _, ok := s.reg.LookupConnection(connID); !ok {
		return UnsubscribeResponse{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	left := sortedCopy(s.reg.Unsubscribe(connID, req.Channels))
	channels := sortedCopy(s.reg.ConnectionChannels(connID))
	return UnsubscribeResponse{
		Channels:         channels,
		ChannelsInfo:     s.channelsInfo(channels, req.Info),
		UnsubscribedFrom: left,
	}, nil
}

// channelsInfo resolves a ChannelInfo view for each of names, honoring the
// include_history/include_users knobs of opts the same way /info does.
func (s *Service) channelsInfo(names []string, opts model.InfoOptions) map[string]model.ChannelInfo {
	if len(names) == 0 {
		return nil
	}
	full := opts
	full.Channels = names
	channels, _ := s.reg.Info(full)
	return channels
}

func (s *Service) Disconnect(ctx context.Context, connID string) error {
	if !s.reg.Disconnect(connID) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return nil
}

// Message validates env has a route, then hands it to the bus for
// asynchronous delivery (spec.md §4.8).
func (s *Service) Message(ctx context.Context, env model.Envelope) error {
	if !env.HasRoute() {
		return ErrNoRoute
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.bus.Publish(bus.TopicMessages, payload)
}

func (s *Service) EditMessage(ctx context.Context, channel, uuid string, message any) error {
	if channel == "" || uuid == "" {
		return ErrNoRoute
	}
	payload, err := json.Marshal(editTask{Channel: channel, UUID: uuid, Message: message})
	if err != nil {
		return fmt.Errorf("encode edit: %w", err)
	}
	return s.bus.Publish(bus.TopicEdits, payload)
}

func (s *Service) DeleteMessage(ctx context.Context, channel, uuid string) error {
	if channel == "" || uuid == "" {
		return ErrNoRoute
	}
	payload, err := json.Marshal(deleteTask{Channel: channel, UUID: uuid})
	if err != nil {
		return fmt.Errorf("encode delete: %w", err)
	}
	return s.bus.Publish(bus.TopicDeletes, payload)
}

func (s *Service) UserState(ctx context.Context, username string, patch map[string]any, publicKeys []string, hasPublicKeys bool) (UserStateResponse, error) {
	changed, user, ok := s.reg.UserState(username, patch, publicKeys, hasPublicKeys)
	if !ok {
		// Silent no-op per spec.md §7: unknown usernames are not an error,
		// and the reply echoes the given state and public keys.
		return UserStateResponse{UserState: patch, PublicKeys: publicKeys}, nil
	}
	return UserStateResponse{
		UserState:    user.State(),
		ChangedState: changed,
		PublicKeys:   user.StatePublicKeys,
	}, nil
}

func (s *Service) ChannelConfig(ctx context.Context, configs map[string]model.ChannelConfig) ([]string, error) {
	return sortedCopy(s.reg.ChannelConfig(configs)), nil
}

func (s *Service) Info(ctx context.Context, opts model.InfoOptions) (InfoResponse, error) {
	channels, users := s.reg.Info(opts)
	return InfoResponse{Channels: channels, Users: users}, nil
}

// AdminStats implements the supplemented admin stats endpoint (data
// equivalent of the original channelstream's admin_json view).
func (s *Service) AdminStats(ctx context.Context) (AdminStatsResponse, error) {
	stats := s.reg.Stats()
	users, connections, channels := s.reg.Counts()
	return AdminStatsResponse{
		RememberedUserCount: int64(users),
		UniqueUserCount:     int64(s.reg.ActiveUserCount()),
		TotalConnections:    int64(connections),
		TotalChannels:       int64(channels),
		TotalMessages:       stats.TotalMessages,
		TotalUniqueMessages: stats.TotalUniqueMessages,
		Channels:            sortedCopy(s.reg.ChannelNames()),
		UptimeSeconds:       time.Since(stats.StartedOn).Seconds(),
	}, nil
}

type editTask struct {
	Channel string `json:"channel"`
	UUID    string `json:"uuid"`
	Message any    `json:"message"`
}

type deleteTask struct {
	Channel string `json:"channel"`
	UUID    string `json:"uuid"`
}
