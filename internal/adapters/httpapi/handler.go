package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
	"github.com/atvirokodosprendimai/attlog/internal/core/usecase"
	"github.com/go-chi/chi/v5"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	apiActorCtxKey  ctxKey = "api_actor"
	maxJSONBodySize        = 1 << 20
	maxHistoryLimit        = 1000
)

type Handler struct {
	ledger      *usecase.LedgerService
	importer    *usecase.ImportService
	authService *usecase.AuthService
}

func NewHandler(ledger *usecase.LedgerService, importer *usecase.ImportService, authService *usecase.AuthService) *Handler {
	return &Handler{ledger: ledger, importer: importer, authService: authService}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Post("/v1/users/{userID}/events", h.recordEvent)
		pr.Get("/v1/users/{userID}/events", h.history)
		pr.Get("/v1/users/{userID}/status", h.currentStatus)
		pr.Post("/v1/users/{userID}/events:import", h.importEvents)
		pr.Get("/v1/users/{userID}/timeline:verify", h.verifyTimeline)
	})

	return r
}

type recordRequest struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

type eventResponse struct {
	Seq        int64  `json:"seq"`
	EventID    string `json:"event_id"`
	UserID     string `json:"user_id"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	RecordedAt string `json:"recorded_at"`
}

func (h *Handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var req recordRequest
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		ts, err = time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be RFC 3339")
			return
		}
	}

	event, err := h.ledger.Record(r.Context(), userID, status, ts)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEventResponse(event))
}

func (h *Handler) currentStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	status, err := h.ledger.CurrentStatus(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": string(status)})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	from, ok := parseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r, "to")
	if !ok {
		return
	}

	result := make([]eventResponse, 0, limit)
	for event, err := range h.ledger.History(r.Context(), userID, from, to) {
		if err != nil {
			handleDomainError(w, err)
			return
		}
		result = append(result, toEventResponse(event))
		if len(result) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) importEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted, err := h.importer.Import(r.Context(), userID, raw)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]eventResponse, 0, len(accepted))
	for _, event := range accepted {
		result = append(result, toEventResponse(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) verifyTimeline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := usecase.VerifyTimeline(r.Context(), h.ledger, userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if token == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token = strings.TrimSpace(auth[7:])
			}
		}

		apiKey, err := h.authService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), apiActorCtxKey, apiKey.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func toEventResponse(event domain.AttendanceEvent) eventResponse {
	return eventResponse{
		Seq:        event.Seq,
		EventID:    event.EventID,
		UserID:     event.UserID,
		Status:     string(event.Status),
		Timestamp:  event.Timestamp.UTC().Format(timeFormat),
		RecordedAt: event.RecordedAt.UTC().Format(timeFormat),
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, false
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}

func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be RFC 3339")
		return time.Time{}, false
	}
	return parsed, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var importErr *domain.ErrImportViolation
	switch {
	case errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrFutureTimestamp):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &importErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "import validation failed",
			"details": importErr.Errors,
		})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStaleEvent):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}
