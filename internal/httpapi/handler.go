package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/token-service/internal/engine"
	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
)

// TokenService is the part of the coordinator the HTTP API drives.
type TokenService interface {
	Assign(ctx context.Context, input engine.AssignInput) (models.AssignResult, error)
	Transition(ctx context.Context, input engine.TransitionInput) (models.Token, error)
	Delay(ctx context.Context, input engine.DelayInput) (models.Token, error)
	Get(tokenID string) (models.Token, error)
	List(filter store.ListFilter) []models.Token
	Stats() []models.QueueStats
	Rollover(now time.Time) int
}

type Handler struct {
	service TokenService
	now     func() time.Time
}

type assignRequest struct {
	RequestID       string `json:"request_id"`
	Phone           string `json:"phone"`
	QueuePrefix     string `json:"queue_prefix"`
	DuplicatePolicy string `json:"duplicate_policy"`
}

type actionRequest struct {
	RequestID string `json:"request_id"`
	Minutes   int    `json:"minutes"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	ExistingTokenID   string `json:"existing_token_id,omitempty"`
	From              string `json:"from,omitempty"`
	To                string `json:"to,omitempty"`
}

// publicToken is what kiosks and display boards get back for a token: no phone.
type publicToken struct {
	TokenID             string    `json:"token_id"`
	QueuePrefix         string    `json:"queue_prefix"`
	Resource            int       `json:"resource"`
	WaitEstimateMinutes int       `json:"wait_estimate_minutes"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	ETA                 time.Time `json:"eta"`
}

func newPublicToken(token models.Token) publicToken {
	return publicToken{
		TokenID:             token.TokenID,
		QueuePrefix:         token.QueuePrefix,
		Resource:            token.Resource,
		WaitEstimateMinutes: token.WaitEstimateMinutes,
		Status:              token.Status,
		CreatedAt:           token.CreatedAt,
		ETA:                 token.ETA,
	}
}

type Options struct {
	Now func() time.Time
}

func NewHandler(service TokenService, options Options) *Handler {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{service: service, now: now}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleTokens)
	mux.HandleFunc("/api/tokens/", h.handleToken)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/admin/rollover", h.handleRollover)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleAssign(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	requestID, ok := resolveRequestID(w, r, req.RequestID)
	if !ok {
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.QueuePrefix = strings.TrimSpace(req.QueuePrefix)
	if req.Phone == "" || req.QueuePrefix == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "phone and queue_prefix are required")
		return
	}
	policy, err := models.ParseDuplicatePolicy(req.DuplicatePolicy)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.service.Assign(r.Context(), engine.AssignInput{
		RequestID:   requestID,
		Phone:       req.Phone,
		QueuePrefix: req.QueuePrefix,
		Policy:      policy,
		Now:         h.now(),
	})
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{
		QueuePrefix: strings.TrimSpace(query.Get("queue")),
		Status:      strings.ToLower(strings.TrimSpace(query.Get("status"))),
		Search:      strings.TrimSpace(query.Get("search")),
	}
	if filter.Status != "" && !models.ValidStatus(filter.Status) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown status "+strconv.Quote(filter.Status))
		return
	}
	tokens := h.service.List(filter)
	if tokens == nil {
		tokens = []models.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token, err := h.service.Get(parts[0])
		if err != nil {
			writeMappedError(w, "", err)
			return
		}
		if isStaff(r.Context()) {
			writeJSON(w, http.StatusOK, token)
			return
		}
		writeJSON(w, http.StatusOK, newPublicToken(token))
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r, strings.ToUpper(parts[0]), parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var actionTargets = map[string]string{
	"serve":    models.StatusServing,
	"complete": models.StatusCompleted,
	"no-show":  models.StatusNoShow,
	"requeue":  models.StatusWaiting,
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, tokenID, action string) {
	target, isTransition := actionTargets[action]
	if !isTransition && action != "delay" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req actionRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	requestID, ok := resolveRequestID(w, r, req.RequestID)
	if !ok {
		return
	}

	var (
		token models.Token
		err   error
	)
	if isTransition {
		token, err = h.service.Transition(r.Context(), engine.TransitionInput{
			RequestID: requestID,
			TokenID:   tokenID,
			To:        target,
			Now:       h.now(),
		})
	} else {
		token, err = h.service.Delay(r.Context(), engine.DelayInput{
			RequestID: requestID,
			TokenID:   tokenID,
			Minutes:   req.Minutes,
			Now:       h.now(),
		})
	}
	if err != nil {
		writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Stats())
}

func (h *Handler) handleRollover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cleared := h.service.Rollover(h.now())
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// resolveRequestID validates a caller supplied request id, falling back to the
// X-Request-ID header and then to a fresh UUID.
func resolveRequestID(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	requestID := strings.TrimSpace(fromBody)
	if requestID == "" {
		requestID = requestIDFromRequest(r)
	}
	if requestID == "" {
		return uuid.NewString(), true
	}
	if !isValidUUID(requestID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return "", false
	}
	return requestID, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.Body == nil {
		return true
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, responseError) {
	var (
		rateLimited *store.RateLimitedError
		duplicate   *store.DuplicateActiveTokenError
		illegal     *store.IllegalTransitionError
	)
	switch {
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests, responseError{
			Code:              store.KindRateLimited,
			Message:           "phone number was used too recently",
			RetryAfterSeconds: rateLimited.RetryAfterSeconds(),
		}
	case errors.As(err, &duplicate):
		return http.StatusConflict, responseError{
			Code:            store.KindDuplicateActiveToken,
			Message:         "phone number already holds an active token",
			ExistingTokenID: duplicate.Existing.TokenID,
		}
	case errors.As(err, &illegal):
		return http.StatusConflict, responseError{
			Code:    store.KindIllegalTransition,
			Message: "token status does not allow this action",
			From:    illegal.From,
			To:      illegal.To,
		}
	case errors.Is(err, store.ErrInvalidPhoneNumber):
		return http.StatusBadRequest, responseError{Code: store.KindInvalidPhoneNumber, Message: err.Error()}
	case errors.Is(err, store.ErrUnknownQueue):
		return http.StatusBadRequest, responseError{Code: store.KindUnknownQueue, Message: err.Error()}
	case errors.Is(err, engine.ErrInvalidDelay):
		return http.StatusBadRequest, responseError{Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusServiceUnavailable, responseError{Code: store.KindCapacityExceeded, Message: "queue is full for today"}
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, responseError{Code: "token_not_found", Message: "token not found"}
	case errors.Is(err, store.ErrInternalInvariantViolation):
		return http.StatusInternalServerError, responseError{Code: store.KindInternalInvariantViolation, Message: "assignment aborted"}
	default:
		return http.StatusInternalServerError, responseError{Code: "internal_error", Message: "internal server error"}
	}
}

func writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, body := mapError(err)
	if body.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	writeJSON(w, status, errorResponse{RequestID: requestID, Error: body})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
