package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipzy/clipzy-server/internal/audit"
	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/httputil"
	"github.com/clipzy/clipzy-server/internal/policy"
	"github.com/clipzy/clipzy-server/internal/service"
)

type PasteHandler struct {
	pasteService *service.PasteService
	storeLimit   func(http.Handler) http.Handler
}

// NewPasteHandler builds the paste endpoints. storeLimit guards writes and
// may be nil.
func NewPasteHandler(pasteService *service.PasteService, storeLimit func(http.Handler) http.Handler) *PasteHandler {
	return &PasteHandler{
		pasteService: pasteService,
		storeLimit:   storeLimit,
	}
}

func (h *PasteHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.storeLimit != nil {
			r.Use(h.storeLimit)
		}
		r.Post("/store", h.Store)
	})
	r.Get("/get", h.Get)
	r.Get("/raw/{id}", h.Raw)

	return r
}

// storeRequest accepts both the current field names and the ones older
// clients send (compressedData, ttl).
type storeRequest struct {
	Ciphertext     string            `json:"ciphertext"`
	CompressedData string            `json:"compressedData"`
	TTLSeconds     policy.TTLRequest `json:"ttlSeconds"`
	TTL            policy.TTLRequest `json:"ttl"`
}

func (req storeRequest) payload() string {
	if req.Ciphertext != "" {
		return req.Ciphertext
	}
	return req.CompressedData
}

func (req storeRequest) ttl() policy.TTLRequest {
	if req.TTLSeconds.Set {
		return req.TTLSeconds
	}
	return req.TTL
}

type storeResponse struct {
	ID         string `json:"id"`
	TTLSeconds *int64 `json:"ttlSeconds"`
}

// POST /store
func (h *PasteHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	stored, err := h.pasteService.Store(r.Context(), req.payload(), req.ttl())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	resp := storeResponse{ID: stored.ID}
	if stored.TTL != policy.NoExpiry {
		secs := int64(stored.TTL / time.Second)
		resp.TTLSeconds = &secs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PasteHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.GetCode(err) == apperrors.ErrCodePayloadTooLarge {
		appErr, _ := apperrors.AsAppError(err)
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventPayloadRejected,
			Details: map[string]interface{}{"limits": appErr.Details},
		})
	}
	httputil.WriteError(w, err)
}

// GET /get?id=
func (h *PasteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	ciphertext, err := h.pasteService.Retrieve(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ciphertext":     ciphertext,
		"compressedData": ciphertext,
	})
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Surrogate-Control", "no-store")
}

// GET /raw/{id}?key=
func (h *PasteHandler) Raw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	setNoStore(w.Header())

	plaintext, err := h.pasteService.Reveal(r.Context(), id, r.URL.Query().Get("key"))
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeForbidden {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventDecryptFailure, PasteID: id})
		}
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(plaintext))
}
