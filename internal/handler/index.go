package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/filter"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/resolver"
	"FlowtrackAPI/internal/workflow"
)

// Lister runs federated listings.
type Lister interface {
	List(ctx context.Context, req resolver.ListRequest) (*resolver.Page, error)
	Get(ctx context.Context, listing, key string) (db.Row, error)
}

// ItemUpdater writes workflow item state.
type ItemUpdater interface {
	UpdateItems(ctx context.Context, patch workflow.ItemsPatch) (*workflow.Result, error)
}

type Handler struct {
	engine  Lister
	items   ItemUpdater
	timeout time.Duration
}

func New(engine Lister, items ItemUpdater, timeout time.Duration) *Handler {
	return &Handler{engine: engine, items: items, timeout: timeout}
}

func (h *Handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// List обслуживает POST /api/<listing>
func (h *Handler) List(listing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolver.ListRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Listing = listing

		ctx, cancel := h.context(r)
		defer cancel()
		page, err := h.engine.List(ctx, req)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, page)
	}
}

// Get обслуживает GET /api/<listing>/{key}
func (h *Handler) Get(listing string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := h.context(r)
		defer cancel()
		row, err := h.engine.Get(ctx, listing, r.PathValue("key"))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, row)
	}
}

// PatchItems обслуживает PATCH /api/items
func (h *Handler) PatchItems(w http.ResponseWriter, r *http.Request) {
	var patch workflow.ItemsPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()
	res, err := h.items.UpdateItems(ctx, patch)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, res)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// MaxBodyBytes ограничивает размер JSON-тела запроса.
const MaxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		logger.WarnCtx(r.Context(), "read_body_failed", map[string]any{
			"endpoint": r.URL.Path,
			"error":    err.Error(),
		})
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(r.Context(), w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	// Попробуем распарсить JSON
	if err := json.Unmarshal(body, out); err != nil {
		logger.WarnCtx(r.Context(), "invalid_json", map[string]any{
			"endpoint": r.URL.Path,
			"error":    err.Error(),
		})
		writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	logger.DebugCtx(r.Context(), "request", map[string]any{
		"endpoint": r.URL.Path,
		"payload":  json.RawMessage(body),
	})
	return true
}

type errorBody struct {
	Error  string   `json:"error"`
	Field  string   `json:"field,omitempty"`
	Tokens []string `json:"tokens,omitempty"`
}

// writeError: validation → 400, not found → 404, остальное → 500
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var ve *filter.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(ctx, w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field, Tokens: ve.Tokens})
	case errors.Is(err, db.ErrNotFound):
		writeJSON(ctx, w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		fields := map[string]any{"error": err.Error()}
		var se *db.StoreError
		if errors.As(err, &se) {
			fields["store"] = se.Store
			fields["op"] = se.Op
			fields["timeout"] = errors.Is(err, context.DeadlineExceeded)
		}
		logger.ErrorCtx(ctx, "request_failed", fields)
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorCtx(ctx, "write_response_failed", map[string]any{"error": err.Error()})
	}
}
