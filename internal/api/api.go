// Package api exposes the matching engine to operators over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"matchbot/internal/matching"
	"matchbot/internal/metrics"
	"matchbot/internal/repo"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Matcher is the subset of the matching engine used by the API.
type Matcher interface {
	GetProfile(ctx context.Context, id int64) (*repo.Profile, error)
	UpdateProfile(ctx context.Context, id int64, edit matching.ProfileEdit) (*repo.Profile, error)
	Next(ctx context.Context, viewerID int64) (*repo.Profile, error)
	Like(ctx context.Context, viewerID, targetID int64) (*matching.LikeResult, error)
	SuperLike(ctx context.Context, viewerID, targetID int64, payload matching.Payload) (*matching.LikeResult, error)
	Dislike(ctx context.Context, viewerID, targetID int64) (matching.DislikeResult, error)
	Boost(ctx context.Context, profileID int64) (*repo.Boost, error)
	Report(ctx context.Context, reporterID, targetID int64, reason repo.ComplaintReason, comment string) (*repo.Complaint, error)
	Stats(ctx context.Context, id int64) (*matching.Stats, error)
	Ban(ctx context.Context, id int64, reason string) (*repo.Profile, error)
	Unban(ctx context.Context, id int64) (*repo.Profile, error)
	SetHidden(ctx context.Context, id int64, hidden bool) (*repo.Profile, error)
}

// Handler serves the operator API.
type Handler struct {
	engine   Matcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// New builds the chi router for /api/v1. secret signs operator tokens.
func New(engine Matcher, secret string, logger *slog.Logger, metricRegistry *metrics.Metrics) http.Handler {
	h := &Handler{
		engine:   engine,
		logger:   logger.With("component", "api"),
		metrics:  metricRegistry,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(h.instrument)
	r.Use(authMiddleware(secret))

	r.Route("/profiles/{id}", func(r chi.Router) {
		r.Get("/", h.getProfile)
		r.Patch("/", h.updateProfile)
		r.Get("/next", h.next)
		r.Get("/stats", h.stats)
		r.Post("/likes", h.like)
		r.Post("/super-likes", h.superLike)
		r.Post("/dislikes", h.dislike)
		r.Post("/boosts", h.boost)
		r.Post("/reports", h.report)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/ban", h.ban)
			r.Delete("/ban", h.unban)
			r.Post("/hide", h.hide)
			r.Delete("/hide", h.unhide)
		})
	})
	return r
}

type targetRequest struct {
	TargetID int64 `json:"target_id" validate:"required,gt=0"`
}

type superLikeRequest struct {
	TargetID int64  `json:"target_id" validate:"required,gt=0"`
	Message  string `json:"message" validate:"max=1000"`
	MediaRef string `json:"media_ref" validate:"max=512"`
}

type reportRequest struct {
	TargetID int64  `json:"target_id" validate:"required,gt=0"`
	Reason   string `json:"reason" validate:"required,oneof=adult_content selling dislike other"`
	Comment  string `json:"comment" validate:"max=500"`
}

type banRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	p, err := h.engine.GetProfile(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProfileView(p))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var edit matching.ProfileEdit
	if !h.decode(w, r, &edit) {
		return
	}
	p, err := h.engine.UpdateProfile(r.Context(), id, edit)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProfileView(p))
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	p, err := h.engine.Next(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProfileView(p))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	st, err := h.engine.Stats(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statsView{
		ProfileID:         st.Profile.ID,
		LikesLimit:        st.LikesLimit,
		LikesRemaining:    st.LikesRemaining,
		DislikesRemaining: st.DislikesRemaining,
		Unlimited:         st.Unlimited,
		BoostedUntil:      st.BoostedUntil,
		TotalLikes:        st.Profile.TotalLikes,
		LikesReceived:     st.Profile.LikesReceived,
		SuperLikeCredits:  st.Profile.SuperLikeCredits,
	})
}

func (h *Handler) like(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Like(r.Context(), id, req.TargetID)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toInteractionView(res.Interaction))
}

func (h *Handler) superLike(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req superLikeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.SuperLike(r.Context(), id, req.TargetID, matching.Payload{Message: req.Message, MediaRef: req.MediaRef})
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toInteractionView(res.Interaction))
}

func (h *Handler) dislike(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Dislike(r.Context(), id, req.TargetID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if res.AlreadyDisliked {
		respondJSON(w, http.StatusOK, map[string]any{"already_disliked": true})
		return
	}
	respondJSON(w, http.StatusCreated, toInteractionView(res.Interaction))
}

func (h *Handler) boost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	b, err := h.engine.Boost(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, boostView{ProfileID: b.ProfileID, ExpiresAt: b.ExpiresAt})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req reportRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.engine.Report(r.Context(), id, req.TargetID, repo.ComplaintReason(req.Reason), req.Comment)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": c.ID, "target_id": c.TargetID, "reason": c.Reason})
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	var req banRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.moderate(w, r, "ban", func() (*repo.Profile, error) { return h.engine.Ban(r.Context(), id, req.Reason) })
}

func (h *Handler) unban(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	h.moderate(w, r, "unban", func() (*repo.Profile, error) { return h.engine.Unban(r.Context(), id) })
}

func (h *Handler) hide(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	h.moderate(w, r, "hide", func() (*repo.Profile, error) { return h.engine.SetHidden(r.Context(), id, true) })
}

func (h *Handler) unhide(w http.ResponseWriter, r *http.Request) {
	id, ok := h.profileID(w, r)
	if !ok {
		return
	}
	h.moderate(w, r, "unhide", func() (*repo.Profile, error) { return h.engine.SetHidden(r.Context(), id, false) })
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request, action string, fn func() (*repo.Profile, error)) {
	p, err := fn()
	if err != nil {
		h.fail(w, err)
		return
	}
	operator := ""
	if claims := ClaimsFrom(r.Context()); claims != nil {
		operator = claims.Subject
	}
	h.logger.Info("moderation applied", "action", action, "profile_id", p.ID, "operator", operator)
	respondJSON(w, http.StatusOK, toProfileView(p))
}

func (h *Handler) profileID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, "invalid profile id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		respondError(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps engine errors onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var quota *matching.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		respondJSON(w, http.StatusTooManyRequests, map[string]any{"error": quota.Error(), "limit": quota.Limit})
	case errors.Is(err, matching.ErrNotFound), errors.Is(err, matching.ErrNoCandidate):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, matching.ErrDuplicateAction), errors.Is(err, matching.ErrAlreadyBoosted):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, matching.ErrBusy):
		respondError(w, err.Error(), http.StatusLocked)
	case errors.Is(err, matching.ErrInvalidInput), errors.Is(err, matching.ErrSelfAction):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, matching.ErrNoSuperLikeCredits):
		respondError(w, err.Error(), http.StatusPaymentRequired)
	default:
		h.logger.Error("request failed", "error", err)
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("api").Inc()
		}
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := r.Method + " " + chi.RouteContext(r.Context()).RoutePattern()
		h.logger.Debug("api request", "route", route, "status", ww.Status(), "duration", time.Since(start))
		if h.metrics != nil {
			h.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		}
	})
}
