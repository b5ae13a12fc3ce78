package http

import (
	"net/http"

	"github.com/channelstream/broker/internal/domain/model"
	"github.com/channelstream/broker/internal/service"
)

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req service.ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	req.HasPublicKeys = req.StatePublicKeys != nil
	resp, err := h.ops.Connect(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConnID string `json:"conn_id"`
		service.SubscribeRequest
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	resp, err := h.ops.Subscribe(r.Context(), body.ConnID, body.SubscribeRequest)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConnID string `json:"conn_id"`
		service.UnsubscribeRequest
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	resp, err := h.ops.Unsubscribe(r.Context(), body.ConnID, body.UnsubscribeRequest)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User            string         `json:"user"`
		UserState       map[string]any `json:"user_state"`
		StatePublicKeys []string       `json:"state_public_keys"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	resp, err := h.ops.UserState(r.Context(), body.User, body.UserState, body.StatePublicKeys, body.StatePublicKeys != nil)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleChannelConfig(w http.ResponseWriter, r *http.Request) {
	configs := make(map[string]model.ChannelConfig)
	if err := decodeJSON(r, &configs); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	names, err := h.ops.ChannelConfig(r.Context(), configs)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	full, _ := h.ops.Info(r.Context(), model.InfoOptions{Channels: names, IncludeHistory: true, IncludeUsers: true})
	writeJSON(w, http.StatusOK, full)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Info model.InfoOptions `json:"info"`
	}
	body.Info = model.DefaultInfoOptions()
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	resp, err := h.ops.Info(r.Context(), body.Info)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMessageCreate accepts a JSON array of envelopes (spec.md §6
// /message POST) and publishes each for asynchronous fan-out, responding
// with the subset accepted.
func (h *Handler) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	var envs []model.Envelope
	if err := decodeJSON(r, &envs); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	accepted := make([]model.Envelope, 0, len(envs))
	for _, env := range envs {
		if err := h.ops.Message(r.Context(), env); err != nil {
			continue
		}
		accepted = append(accepted, env)
	}
	writeJSON(w, http.StatusOK, accepted)
}

func (h *Handler) handleMessageEdit(w http.ResponseWriter, r *http.Request) {
	var edits []struct {
		UUID    string `json:"uuid"`
		Channel string `json:"channel"`
		Message any    `json:"message"`
	}
	if err := decodeJSON(r, &edits); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	accepted := make([]any, 0, len(edits))
	for _, e := range edits {
		if err := h.ops.EditMessage(r.Context(), e.Channel, e.UUID, e.Message); err != nil {
			continue
		}
		accepted = append(accepted, e)
	}
	writeJSON(w, http.StatusOK, accepted)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	resp, err := h.ops.AdminStats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	var deletes []struct {
		UUID    string `json:"uuid"`
		Channel string `json:"channel"`
	}
	if err := decodeJSON(r, &deletes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}
	accepted := make([]any, 0, len(deletes))
	for _, d := range deletes {
		if err := h.ops.DeleteMessage(r.Context(), d.Channel, d.UUID); err != nil {
			continue
		}
		accepted = append(accepted, d)
	}
	writeJSON(w, http.StatusOK, accepted)
}
