package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"boutique/terminal/internal/backend"
	"boutique/terminal/internal/catalog"
	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/draft"
	"boutique/terminal/internal/reconcile"
	"boutique/terminal/internal/service"
	"boutique/terminal/internal/store"
)

type API struct {
	service       *service.Service
	allowedOrigin string
	syncLimiter   *attemptLimiter
	log           zerolog.Logger
}

func New(svc *service.Service, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		syncLimiter:   newAttemptLimiter(6, time.Minute),
		log:           logger.With().Str("component", "httpapi").Logger(),
	}
}

// attemptLimiter caps how often one client may trigger a round trip to the
// backend (sync batches and catalog refreshes).
type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/catalog", a.handleCatalog)
	mux.HandleFunc("/api/v1/drafts/", a.handleDrafts)
	mux.HandleFunc("/api/v1/lines/preview", a.handleLinePreview)
	mux.HandleFunc("/api/v1/checkout", a.handleCheckout)
	mux.HandleFunc("/api/v1/sales/history", a.handleSalesHistory)
	mux.HandleFunc("/api/v1/sales/cancel", a.handleCancelSale)
	mux.HandleFunc("/api/v1/sync", a.handleSync)

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC()})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	refresh := isTruthy(r.URL.Query().Get("refresh"))
	if refresh && !a.syncLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many refresh requests"))
		return
	}

	snapshot, err := a.service.Catalog(r.Context(), refresh)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles":   snapshot.Articles(),
		"fetched_at": snapshot.FetchedAt(),
		"stale":      snapshot.FetchedAt().IsZero(),
	})
}

// handleDrafts serves /api/v1/drafts/{form}[/lines[/{index}] | /header | /submit].
func (a *API) handleDrafts(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/drafts/"
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("form id required"))
		return
	}
	parts := strings.Split(tail, "/")
	formID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleDraft(w, r, formID)
	case len(parts) == 2 && parts[1] == "lines":
		a.handleDraftLines(w, r, formID)
	case len(parts) == 3 && parts[1] == "lines":
		a.handleDraftLine(w, r, formID, parts[2])
	case len(parts) == 2 && parts[1] == "header":
		a.handleDraftHeader(w, r, formID)
	case len(parts) == 2 && parts[1] == "submit":
		a.handleDraftSubmit(w, r, formID)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown draft action"))
	}
}

func (a *API) handleDraft(w http.ResponseWriter, r *http.Request, formID string) {
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.OpenDraft(r.Context(), formID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		var d domain.Draft
		if err := decodeJSON(r, &d); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.service.SaveDraft(r.Context(), formID, d)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if err := a.service.ClearDraft(r.Context(), formID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDraftLines(w http.ResponseWriter, r *http.Request, formID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var item domain.LineItem
	if err := decodeJSON(r, &item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddDraftLine(r.Context(), formID, item)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDraftLine(w http.ResponseWriter, r *http.Request, formID string, rawIndex string) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("line index must be a number"))
		return
	}
	view, err := a.service.RemoveDraftLine(r.Context(), formID, index)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleDraftHeader(w http.ResponseWriter, r *http.Request, formID string) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	var upd domain.DraftHeaderUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateDraftHeader(r.Context(), formID, upd)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitDraftRequest struct {
	PaymentMode string `json:"payment_mode"`
}

func (a *API) handleDraftSubmit(w http.ResponseWriter, r *http.Request, formID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req submitDraftRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	resp, err := a.service.SubmitDraft(r.Context(), formID, req.PaymentMode)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, checkoutStatus(resp), resp)
}

type linePreviewRequest struct {
	Item   domain.LineItem    `json:"item"`
	Header domain.DraftHeader `json:"header"`
}

func (a *API) handleLinePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req linePreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.PreviewLine(req.Item, req.Header))
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, checkoutStatus(resp), resp)
}

func (a *API) handleSalesHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 0, 0)
	entries, err := a.service.SalesHistory(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": entries})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CancelSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CancelSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.syncLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many sync requests"))
		return
	}

	report, err := a.service.SyncPending(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report.View())
}

// writeServiceError maps service and backend errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var refused *service.CancelRefusedError
	if errors.As(err, &refused) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           refused.Error(),
			"code":            refused.Failure.Code,
			"elapsed_minutes": refused.Failure.ElapsedMinutes,
			"max_minutes":     refused.Failure.MaxMinutes,
			"local":           refused.Local,
		})
		return
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusUnprocessableEntity
		if apiErr.Status >= 500 {
			status = http.StatusBadGateway
		}
		writeErrorCode(w, status, apiErr.Code, err)
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidForm),
		errors.Is(err, service.ErrDraftEmpty),
		errors.Is(err, draft.ErrInvalidQuantity),
		errors.Is(err, draft.ErrMissingName),
		errors.Is(err, draft.ErrUnknownArticle),
		errors.Is(err, draft.ErrLineIndex):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrDraftLineUnlinked):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrNotSynced):
		writeErrorCode(w, http.StatusConflict, "NOT_SYNCED", err)
	case errors.Is(err, reconcile.ErrInProgress):
		writeErrorCode(w, http.StatusConflict, "SYNC_IN_PROGRESS", err)
	case errors.Is(err, catalog.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, reconcile.ErrNotSent),
		errors.Is(err, backend.ErrTransport),
		errors.Is(err, backend.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, err)
	default:
		a.log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func checkoutStatus(resp domain.CheckoutResponse) int {
	if resp.Queued {
		return http.StatusAccepted
	}
	return http.StatusCreated
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeErrorCode(w, status, "", err)
}

// writeErrorCode never exposes the text of a 5xx error to the client.
func writeErrorCode(w http.ResponseWriter, status int, code string, err error) {
	msg := err.Error()
	switch {
	case status == http.StatusBadGateway:
		log.Warn().Err(err).Int("status", status).Msg("backend error")
		msg = "backend unavailable"
	case status == http.StatusServiceUnavailable:
		log.Warn().Err(err).Int("status", status).Msg("service unavailable")
		msg = "service unavailable"
	case status >= 500:
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}

	body := map[string]any{"error": msg}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
