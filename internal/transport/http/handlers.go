package http

import (
	"net/http"

	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/httpx"
	"e2ee-channels/internal/observability/middleware"
	"e2ee-channels/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func caller(r *http.Request) uuid.UUID {
	id, _ := httpx.UserIDFromContext(r.Context())
	return id
}

func pathID(w http.ResponseWriter, r *http.Request, op string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, op, service.ErrInvalidRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := httpx.DecodeJSON(w, r, v); err != nil {
		middleware.Logger(r.Context()).Warn(op+" decode failed", "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decode(w, r, "register", &req) {
		return
	}
	res, err := h.svc.RegisterUser(r.Context(), req)
	if err != nil {
		fail(w, r, "register", err)
		return
	}
	middleware.Logger(r.Context()).Info("user registered", "user_id", res.UserID, "has_key_material", res.HasKeyMaterial)
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decode(w, r, "login", &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		fail(w, r, "login", err)
		return
	}
	middleware.Logger(r.Context()).Info("user logged in", "user_id", res.UserID)
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) provisionKey(w http.ResponseWriter, r *http.Request) {
	var req dto.ProvisionKeyRequest
	if !decode(w, r, "provision key", &req) {
		return
	}
	res, err := h.svc.ProvisionKey(r.Context(), caller(r), req)
	if err != nil {
		fail(w, r, "provision key", err)
		return
	}
	middleware.Logger(r.Context()).Info("key material provisioned", "user_id", res.UserID)
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) publicKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "get public key")
	if !ok {
		return
	}
	res, err := h.svc.GetPublicKey(r.Context(), id)
	if err != nil {
		fail(w, r, "get public key", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) userData(w http.ResponseWriter, r *http.Request) {
	var channelID *uuid.UUID
	if raw := r.URL.Query().Get("channelId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			fail(w, r, "get user data", service.ErrInvalidRequest)
			return
		}
		channelID = &id
	}
	res, err := h.svc.GetUserData(r.Context(), caller(r), channelID)
	if err != nil {
		fail(w, r, "get user data", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) eligibleMembers(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.EligibleMembers(r.Context())
	if err != nil {
		fail(w, r, "eligible members", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) createChannel(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateChannelRequest
	if !decode(w, r, "create channel", &req) {
		return
	}
	res, err := h.svc.CreateChannel(r.Context(), caller(r), req)
	if err != nil {
		fail(w, r, "create channel", err)
		return
	}
	middleware.Logger(r.Context()).Info("channel created", "channel_id", res.Channel.ID, "slug", res.Channel.Slug, "members", res.Members)
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListChannels(r.Context(), caller(r))
	if err != nil {
		fail(w, r, "list channels", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "delete channel")
	if !ok {
		return
	}
	if err := h.svc.DeleteChannel(r.Context(), id, caller(r)); err != nil {
		fail(w, r, "delete channel", err)
		return
	}
	middleware.Logger(r.Context()).Info("channel deleted", "channel_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) joinChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "join channel")
	if !ok {
		return
	}
	res, err := h.svc.JoinChannel(r.Context(), id, caller(r))
	if err != nil {
		fail(w, r, "join channel", err)
		return
	}
	status := http.StatusAccepted
	if res.Status == dto.JoinJoined {
		status = http.StatusOK
	}
	middleware.Logger(r.Context()).Info("join channel", "channel_id", id, "status", res.Status)
	httpx.WriteJSON(w, status, res)
}

func (h *handler) pendingJoins(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "pending joins")
	if !ok {
		return
	}
	res, err := h.svc.PendingJoins(r.Context(), id, caller(r))
	if err != nil {
		fail(w, r, "pending joins", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) addChannelKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "add channel key")
	if !ok {
		return
	}
	var req dto.WrappedKeyInput
	if !decode(w, r, "add channel key", &req) {
		return
	}
	res, err := h.svc.AddChannelKey(r.Context(), id, caller(r), req)
	if err != nil {
		fail(w, r, "add channel key", err)
		return
	}
	middleware.Logger(r.Context()).Info("channel key added", "channel_id", id, "user_id", res.UserID)
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) addMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "add message")
	if !ok {
		return
	}
	var req dto.AddMessageRequest
	if !decode(w, r, "add message", &req) {
		return
	}
	res, err := h.svc.AddMessage(r.Context(), id, caller(r), req)
	if err != nil {
		fail(w, r, "add message", err)
		return
	}
	middleware.Logger(r.Context()).Info("message stored", "channel_id", id, "message_id", res.ID, "encrypted", res.Nonce != "")
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "list messages")
	if !ok {
		return
	}
	res, err := h.svc.ListMessages(r.Context(), id, caller(r))
	if err != nil {
		fail(w, r, "list messages", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) clearMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "clear messages")
	if !ok {
		return
	}
	res, err := h.svc.ClearMessages(r.Context(), id, caller(r))
	if err != nil {
		fail(w, r, "clear messages", err)
		return
	}
	middleware.Logger(r.Context()).Info("messages cleared", "channel_id", id, "deleted", res.Deleted)
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "delete message")
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(r.Context(), id, caller(r)); err != nil {
		fail(w, r, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
