package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/remote"
)

const (
	defaultStuckAge   = 5 * time.Minute
	divergenceWindow  = 30 * 24 * time.Hour
	divergencePageLen = 200
)

// Lister is the slice of the remote client the auditor needs.
type Lister interface {
	ListProgress(ctx context.Context, q remote.ListQuery) (*remote.ProgressPage, error)
}

// Report is the outcome of one audit run. Every slice empty means the
// local store and outbox agree with each other.
type Report struct {
	RanAt               time.Time                       `json:"ran_at"`
	OrphanedEvents      []*model.OutboxEvent            `json:"orphaned_events"`
	MissingEvents       []repository.DirtyRecord        `json:"missing_events"`
	StuckEvents         []*model.OutboxEvent            `json:"stuck_events"`
	InconsistentRecords []repository.InconsistentRecord `json:"inconsistent_records"`
	RemoteMissing       []string                        `json:"remote_missing,omitempty"`
	RemoteChecked       bool                            `json:"remote_checked"`
}

func (r *Report) Clean() bool {
	return len(r.OrphanedEvents) == 0 &&
		len(r.MissingEvents) == 0 &&
		len(r.StuckEvents) == 0 &&
		len(r.InconsistentRecords) == 0 &&
		len(r.RemoteMissing) == 0
}

// Service runs cross-store consistency checks. Remote listings are
// cached briefly so repeated audit calls do not hammer the backend.
type Service struct {
	repo     repository.AuditRepository
	outbox   repository.OutboxRepository
	lister   Lister
	cache    *gocache.Cache
	stuckAge time.Duration
	log      *logger.Logger
}

func NewService(repo repository.AuditRepository, outbox repository.OutboxRepository, lister Lister, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		outbox:   outbox,
		lister:   lister,
		cache:    gocache.New(2*time.Minute, 5*time.Minute),
		stuckAge: defaultStuckAge,
		log:      log,
	}
}

// WithStuckAge overrides the age after which a pending event counts as
// stuck.
func (s *Service) WithStuckAge(age time.Duration) *Service {
	s.stuckAge = age
	return s
}

// Run executes the local checks, plus the remote divergence check when
// includeRemote is set. Local checks never fail because the remote is
// down; a remote listing error only clears RemoteChecked.
func (s *Service) Run(ctx context.Context, userID uuid.UUID, includeRemote bool) (*Report, error) {
	report := &Report{RanAt: time.Now().UTC()}

	var err error
	if report.OrphanedEvents, err = s.repo.OrphanedEvents(ctx, userID); err != nil {
		return nil, fmt.Errorf("orphaned events check: %w", err)
	}
	if report.MissingEvents, err = s.repo.MissingEvents(ctx, userID); err != nil {
		return nil, fmt.Errorf("missing events check: %w", err)
	}
	if report.StuckEvents, err = s.repo.StuckEvents(ctx, userID, s.stuckAge); err != nil {
		return nil, fmt.Errorf("stuck events check: %w", err)
	}
	if report.InconsistentRecords, err = s.repo.InconsistentRecords(ctx, userID); err != nil {
		return nil, fmt.Errorf("inconsistent records check: %w", err)
	}

	if includeRemote && s.lister != nil {
		missing, remoteErr := s.remoteDivergence(ctx, userID)
		if remoteErr != nil {
			s.log.Warn(fmt.Sprintf("remote divergence check skipped: %v", remoteErr))
		} else {
			report.RemoteMissing = missing
			report.RemoteChecked = true
		}
	}

	if !report.Clean() {
		s.log.Warn(fmt.Sprintf(
			"audit found inconsistencies: orphaned=%d missing=%d stuck=%d inconsistent=%d remote_missing=%d",
			len(report.OrphanedEvents), len(report.MissingEvents), len(report.StuckEvents),
			len(report.InconsistentRecords), len(report.RemoteMissing),
		))
	}
	return report, nil
}

// remoteDivergence lists the backend's progress entries for the window
// and reports local records marked synced whose backend id the backend
// no longer returns.
func (s *Service) remoteDivergence(ctx context.Context, userID uuid.UUID) ([]string, error) {
	to := time.Now().UTC()
	from := to.Add(-divergenceWindow)

	local, err := s.repo.SyncedBackendIDs(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	if len(local) == 0 {
		return nil, nil
	}

	remoteIDs, err := s.remoteProgressIDs(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	var missing []string
	for backendID := range local {
		if _, ok := remoteIDs[backendID]; !ok {
			missing = append(missing, backendID)
		}
	}
	return missing, nil
}

func (s *Service) remoteProgressIDs(ctx context.Context, userID uuid.UUID, from, to time.Time) (map[string]struct{}, error) {
	cacheKey := "remote-progress:" + userID.String()
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(map[string]struct{}), nil
	}

	ids := make(map[string]struct{})
	offset := 0
	for {
		page, err := s.lister.ListProgress(ctx, remote.ListQuery{
			From:   from,
			To:     to,
			Limit:  divergencePageLen,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			ids[e.ID] = struct{}{}
		}
		offset += len(page.Entries)
		if len(page.Entries) < divergencePageLen || offset >= page.Total {
			break
		}
	}

	s.cache.SetDefault(cacheKey, ids)
	return ids, nil
}

// CleanupOrphans deletes events whose entity is gone. Event rows are
// the only side to remove: the entity side no longer exists.
func (s *Service) CleanupOrphans(ctx context.Context, userID uuid.UUID) (int64, error) {
	orphans, err := s.repo.OrphanedEvents(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	entityIDs := make([]uuid.UUID, 0, len(orphans))
	for _, ev := range orphans {
		entityIDs = append(entityIDs, ev.EntityID)
	}
	removed, err := s.outbox.DeleteForEntities(ctx, entityIDs)
	if err != nil {
		return 0, err
	}
	s.log.Info(fmt.Sprintf("removed %d orphaned outbox events", removed))
	return removed, nil
}
