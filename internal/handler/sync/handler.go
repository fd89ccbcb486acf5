package sync

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/service/audit"
	"github.com/lumehealth/lume-sync/pkg/auth"
	"github.com/lumehealth/lume-sync/pkg/httputil"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

// Handler serves the local diagnostics endpoints. It is read-mostly:
// the only mutation it exposes is orphan cleanup.
type Handler struct {
	outbox   repository.OutboxRepository
	progress repository.ProgressRepository
	moods    repository.MoodRepository
	workouts repository.WorkoutRepository
	meals    repository.MealRepository
	auditor  *audit.Service
	tokens   *auth.Manager
	userID   uuid.UUID
	log      *logger.Logger
}

func NewHandler(
	outbox repository.OutboxRepository,
	progress repository.ProgressRepository,
	moods repository.MoodRepository,
	workouts repository.WorkoutRepository,
	meals repository.MealRepository,
	auditor *audit.Service,
	tokens *auth.Manager,
	userID uuid.UUID,
	log *logger.Logger,
) *Handler {
	return &Handler{
		outbox:   outbox,
		progress: progress,
		moods:    moods,
		workouts: workouts,
		meals:    meals,
		auditor:  auditor,
		tokens:   tokens,
		userID:   userID,
		log:      log,
	}
}

type statusResponse struct {
	Authenticated bool           `json:"authenticated"`
	Outbox        map[string]int `json:"outbox"`
	Dirty         map[string]int `json:"dirty"`
}

// GetStatus reports queue depth per outbox status and the number of
// dirty records per entity kind.
func (h *Handler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.outbox.CountByStatus(ctx, h.userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	outbox := make(map[string]int, len(counts))
	for status, n := range counts {
		outbox[string(status)] = n
	}

	dirty := make(map[string]int, 4)
	if entries, err := h.progress.ListDirty(ctx, h.userID); err == nil {
		dirty[string(model.EventProgressEntry)] = len(entries)
	}
	if entries, err := h.moods.ListDirty(ctx, h.userID); err == nil {
		dirty[string(model.EventMoodEntry)] = len(entries)
	}
	if entries, err := h.workouts.ListDirty(ctx, h.userID); err == nil {
		dirty[string(model.EventWorkout)] = len(entries)
	}
	if entries, err := h.meals.ListDirty(ctx, h.userID); err == nil {
		dirty[string(model.EventMeal)] = len(entries)
	}

	httputil.RespondWithSuccess(c, statusResponse{
		Authenticated: h.tokens.HasSession(),
		Outbox:        outbox,
		Dirty:         dirty,
	})
}

// RunAudit executes a consistency audit. ?remote=true adds the remote
// divergence check.
func (h *Handler) RunAudit(c *gin.Context) {
	includeRemote, _ := strconv.ParseBool(c.Query("remote"))

	report, err := h.auditor.Run(c.Request.Context(), h.userID, includeRemote)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, report)
}

// CleanupOrphans removes outbox events whose entity no longer exists.
func (h *Handler) CleanupOrphans(c *gin.Context) {
	removed, err := h.auditor.CleanupOrphans(c.Request.Context(), h.userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"removed": removed})
}

// ListFailed returns terminally failed events for inspection.
func (h *Handler) ListFailed(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := h.outbox.FetchByStatus(c.Request.Context(), model.OutboxStatusFailed, h.userID, limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, events)
}
