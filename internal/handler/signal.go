package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/httputil"
	"github.com/clipzy/clipzy-server/internal/model"
	"github.com/clipzy/clipzy-server/internal/service"
)

const (
	actionCreateRoom = "create-room"
	actionJoinRoom   = "join-room"
	actionSignal     = "signal"
	actionPoll       = "poll"
	actionRoom       = "room"
	actionRooms      = "rooms"
)

// SignalHandler serves the LAN signaling relay on a single path, dispatching
// on the action field or query parameter.
type SignalHandler struct {
	relayService *service.RelayService
	limit        func(http.Handler) http.Handler
}

func NewSignalHandler(relayService *service.RelayService, limit func(http.Handler) http.Handler) *SignalHandler {
	return &SignalHandler{
		relayService: relayService,
		limit:        limit,
	}
}

func (h *SignalHandler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.limit != nil {
		r.Use(h.limit)
	}
	r.Get("/", h.Get)
	r.Post("/", h.Post)
	r.Delete("/", h.Delete)

	return r
}

type signalRequest struct {
	Action     string           `json:"action"`
	RoomID     string           `json:"roomId"`
	DeviceName string           `json:"deviceName"`
	DeviceType model.DeviceType `json:"deviceType"`
	Type       model.SignalType `json:"type"`
	FromDevice string           `json:"fromDevice"`
	ToDevice   string           `json:"toDevice"`
	Data       json.RawMessage  `json:"data"`
}

// POST /lan/signal
func (h *SignalHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx := r.Context()

	switch req.Action {
	case actionCreateRoom:
		room, err := h.relayService.CreateRoom(ctx)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roomId": room.ID, "room": room})

	case actionJoinRoom:
		result, err := h.relayService.JoinRoom(ctx, req.RoomID, req.DeviceName, req.DeviceType)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"room": result.Room, "device": result.Device})

	case actionSignal:
		msg, err := h.relayService.SendSignal(ctx, req.RoomID, service.SignalInput{
			Type:       req.Type,
			FromDevice: req.FromDevice,
			ToDevice:   req.ToDevice,
			Data:       req.Data,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"id":        msg.ID,
			"timestamp": msg.Timestamp,
		})

	case "":
		httputil.WriteError(w, apperrors.MissingRequired("action"))
	default:
		httputil.WriteError(w, apperrors.InvalidInput("action", req.Action))
	}
}

// GET /lan/signal?action=
func (h *SignalHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	switch action := q.Get("action"); action {
	case actionPoll:
		cursor, err := parseCursor(q.Get("cursor"), q.Get("lastMessageId"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		msgs, err := h.relayService.Poll(ctx, q.Get("roomId"), q.Get("deviceId"), cursor)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		next := cursor
		if len(msgs) > 0 {
			next = msgs[len(msgs)-1].Timestamp
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "cursor": next})

	case actionRoom:
		room, err := h.relayService.GetRoom(ctx, q.Get("roomId"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"room": room})

	case actionRooms:
		ids, err := h.relayService.ListRooms(ctx)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rooms": ids})

	case "":
		httputil.WriteError(w, apperrors.MissingRequired("action"))
	default:
		httputil.WriteError(w, apperrors.InvalidInput("action", action))
	}
}

// DELETE /lan/signal?roomId=&deviceId=
func (h *SignalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if err := h.relayService.LeaveRoom(r.Context(), q.Get("roomId"), q.Get("deviceId")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseCursor reads the poll cursor, preferring cursor over the older
// lastMessageId name. Both carry a millisecond timestamp.
func parseCursor(cursor, legacy string) (int64, error) {
	raw := cursor
	if raw == "" {
		raw = legacy
	}
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperrors.InvalidInput("cursor", "must be a non-negative integer")
	}
	return n, nil
}
