package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courtside-live/project/internal/app/engine"
	"github.com/courtside-live/project/internal/app/query"
	"github.com/courtside-live/project/internal/contracts"
	platformauth "github.com/courtside-live/project/internal/platform/auth"
)

// MatchReader serves the read endpoints; the production implementation is
// query.Repository.
type MatchReader interface {
	GetMatch(ctx context.Context, matchID string) (contracts.MatchDetail, error)
	ListLiveMatches(ctx context.Context) ([]contracts.MatchSummary, error)
}

type Handler struct {
	Service *Service
	Matches MatchReader
	Auth    platformauth.Manager
}

func NewHandler(service *Service, matches MatchReader, auth platformauth.Manager) *Handler {
	return &Handler{
		Service: service,
		Matches: matches,
		Auth:    auth,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/v1/matches/live", h.handleListLive)
	r.Get("/api/v1/matches/{matchID}", h.handleGetMatch)

	r.Group(func(opR chi.Router) {
		opR.Use(h.operatorMiddleware)
		opR.Post("/api/v1/matches", h.handleCreateMatch)
		opR.Post("/api/v1/matches/{matchID}/start", h.handleStartMatch)
		opR.Post("/api/v1/scores/{matchID}/point", h.handleSubmitPoint)
	})

	return r
}

type startMatchRequest struct {
	Server contracts.Side `json:"server"`
}

type pointRequest struct {
	Side          contracts.Side `json:"side"`
	EventType     string         `json:"event_type"`
	ClientEventID string         `json:"client_event_id"`
	Server        contracts.Side `json:"server"`
}

func (h *Handler) handleListLive(w http.ResponseWriter, r *http.Request) {
	matches, err := h.Matches.ListLiveMatches(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	detail, err := h.Matches.GetMatch(r.Context(), matchID)
	if err != nil {
		if errors.Is(err, query.ErrMatchNotFound) || errors.Is(err, ErrMatchNotFound) {
			h.writeError(w, http.StatusNotFound, "match not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	detail, err := h.Service.CreateMatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrPlayersRequired) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, detail)
}

func (h *Handler) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req startMatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}

	snapshot, err := h.Service.StartMatch(r.Context(), matchID, req.Server)
	if err != nil {
		switch {
		case errors.Is(err, ErrMatchIDRequired):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrMatchNotFound):
			h.writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, engine.ErrMatchCompleted), errors.Is(err, ErrMatchNotLive):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleSubmitPoint(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	snapshot, err := h.Service.Submit(r.Context(), matchID, contracts.PointEvent{
		Side:          req.Side,
		EventType:     req.EventType,
		ClientEventID: req.ClientEventID,
		Server:        req.Server,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrMatchIDRequired),
			errors.Is(err, engine.ErrUnknownSide),
			errors.Is(err, engine.ErrUnsupportedEventType):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrMatchNotFound):
			h.writeError(w, http.StatusNotFound, "match not found")
		case errors.Is(err, ErrMatchNotLive), errors.Is(err, engine.ErrMatchCompleted):
			h.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrPersistence):
			h.writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) operatorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Auth.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Role != platformauth.RoleOperator {
			h.writeError(w, http.StatusForbidden, "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// OperatorToken mints a token for the writer endpoints; used by tooling and
// tests.
func OperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	return platformauth.NewManager(secret, ttl).Sign(subject, platformauth.RoleOperator)
}
