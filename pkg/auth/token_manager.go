package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/lumehealth/lume-sync/internal/model"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

// Refresher exchanges a refresh token for a new pair. Implemented by the
// remote client; injected after construction to break the cycle between
// the client (needs tokens) and the manager (needs the refresh call).
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*model.TokenPair, error)
}

// Manager owns the bearer-token lifecycle: persistence, proactive
// refresh near expiry, single-flight refresh on 401, and forced logout
// when the credential is dead.
type Manager struct {
	store     TokenStore
	refresher Refresher
	log       *logger.Logger
	metrics   *metrics.Metrics
	onLogout  func()
	leeway    time.Duration

	sf singleflight.Group

	mu   sync.RWMutex
	pair *model.TokenPair
}

// NewManager loads any persisted pair. onLogout may be nil.
func NewManager(store TokenStore, log *logger.Logger, m *metrics.Metrics, onLogout func()) (*Manager, error) {
	pair, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:    store,
		log:      log,
		metrics:  m,
		onLogout: onLogout,
		leeway:   30 * time.Second,
		pair:     pair,
	}, nil
}

func (m *Manager) SetRefresher(r Refresher) {
	m.refresher = r
}

// SetTokens installs a fresh pair (login flow).
func (m *Manager) SetTokens(pair *model.TokenPair) error {
	if err := m.store.Save(pair); err != nil {
		return err
	}
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

// AccessToken returns a token expected to be valid. When the current one
// expires within the leeway window it is refreshed first, so most pushes
// never see a 401 at all.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	pair := m.pair
	m.mu.RUnlock()

	if pair == nil || pair.AccessToken == "" {
		return "", apperrors.Unauthorized(nil)
	}

	if exp, ok := tokenExpiry(pair.AccessToken); ok && time.Until(exp) < m.leeway {
		return m.Refresh(ctx, pair.AccessToken)
	}
	return pair.AccessToken, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// coalesce onto one in-flight refresh; callers pass the access token
// that failed for them so a refresh that already happened is not
// repeated. Terminal refresh failures force logout.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	token, err, _ := m.sf.Do("refresh", func() (interface{}, error) {
		m.mu.RLock()
		pair := m.pair
		m.mu.RUnlock()

		if pair == nil {
			return "", apperrors.Unauthorized(nil)
		}
		// Another caller already refreshed while we queued.
		if pair.AccessToken != "" && pair.AccessToken != stale {
			return pair.AccessToken, nil
		}
		if pair.RefreshToken == "" {
			m.ForceLogout()
			return "", apperrors.Unauthorized(nil)
		}
		if m.refresher == nil {
			return "", apperrors.Internal(nil)
		}

		fresh, err := m.refresher.RefreshTokens(ctx, pair.RefreshToken)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrUnauthorized) || apperrors.HasCode(err, apperrors.ErrValidation) {
				// The refresh token itself is revoked or invalid; no
				// retry can recover this credential.
				m.ForceLogout()
				return "", apperrors.Unauthorized(err)
			}
			return "", err
		}

		if err := m.SetTokens(fresh); err != nil {
			return "", err
		}
		if m.metrics != nil {
			m.metrics.TokenRefreshes.Inc()
		}
		m.log.Debug("access token refreshed")
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// ForceLogout clears the credential and fires the logout hook. Safe to
// call repeatedly; the hook runs once per credential generation.
func (m *Manager) ForceLogout() {
	m.mu.Lock()
	hadSession := m.pair != nil
	m.pair = nil
	m.mu.Unlock()

	if !hadSession {
		return
	}
	if err := m.store.Clear(); err != nil {
		m.log.Error(err, "failed to clear token store")
	}
	if m.metrics != nil {
		m.metrics.ForcedLogouts.Inc()
	}
	m.log.Warn("session terminated, credentials cleared")
	if m.onLogout != nil {
		m.onLogout()
	}
}

// HasSession reports whether a credential pair is installed.
func (m *Manager) HasSession() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair != nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend is the verifier, the client only schedules refreshes.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
