package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/model"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

func makeJWT(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int32
	delay time.Duration
	pair  *model.TokenPair
	err   error
}

func (f *fakeRefresher) RefreshTokens(_ context.Context, refreshToken string) (*model.TokenPair, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.pair, nil
}

func newTestManager(t *testing.T, pair *model.TokenPair) (*Manager, *fakeRefresher, *int32) {
	t.Helper()
	var logouts int32
	m, err := NewManager(NewMemoryTokenStore(pair), logger.Discard(), nil, func() {
		atomic.AddInt32(&logouts, 1)
	})
	require.NoError(t, err)
	refresher := &fakeRefresher{}
	m.SetRefresher(refresher)
	return m, refresher, &logouts
}

func TestAccessTokenReturnsCurrentWhenFresh(t *testing.T) {
	access := makeJWT(t, time.Hour)
	m, refresher, _ := newTestManager(t, &model.TokenPair{AccessToken: access, RefreshToken: "r1"})

	got, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
	assert.Zero(t, atomic.LoadInt32(&refresher.calls))
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	stale := makeJWT(t, 5*time.Second)
	fresh := makeJWT(t, time.Hour)
	m, refresher, _ := newTestManager(t, &model.TokenPair{AccessToken: stale, RefreshToken: "r1"})
	refresher.pair = &model.TokenPair{AccessToken: fresh, RefreshToken: "r2"}

	got, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls))
}

func TestAccessTokenWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	stale := makeJWT(t, time.Hour)
	fresh := makeJWT(t, 2*time.Hour)
	m, refresher, _ := newTestManager(t, &model.TokenPair{AccessToken: stale, RefreshToken: "r1"})
	refresher.pair = &model.TokenPair{AccessToken: fresh, RefreshToken: "r2"}
	refresher.delay = 50 * time.Millisecond

	const workers = 10
	var wg sync.WaitGroup
	gotTokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gotTokens[i], errs[i] = m.Refresh(context.Background(), stale)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls), "concurrent failures share one refresh")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fresh, gotTokens[i])
	}
}

func TestRefreshSkipsWhenTokenAlreadyRotated(t *testing.T) {
	current := makeJWT(t, time.Hour)
	m, refresher, _ := newTestManager(t, &model.TokenPair{AccessToken: current, RefreshToken: "r1"})

	// The caller failed with an older token; the pair has moved on.
	got, err := m.Refresh(context.Background(), "older-token")
	require.NoError(t, err)
	assert.Equal(t, current, got)
	assert.Zero(t, atomic.LoadInt32(&refresher.calls))
}

func TestRevokedRefreshTokenForcesLogout(t *testing.T) {
	stale := makeJWT(t, time.Hour)
	store := NewMemoryTokenStore(&model.TokenPair{AccessToken: stale, RefreshToken: "revoked"})
	var logouts int32
	m, err := NewManager(store, logger.Discard(), nil, func() { atomic.AddInt32(&logouts, 1) })
	require.NoError(t, err)
	refresher := &fakeRefresher{err: apperrors.Unauthorized(nil)}
	m.SetRefresher(refresher)

	_, err = m.Refresh(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
	assert.False(t, m.HasSession())
	assert.EqualValues(t, 1, atomic.LoadInt32(&logouts))

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, persisted, "revoked credentials must not survive a restart")
}

func TestTransientRefreshFailureKeepsSession(t *testing.T) {
	stale := makeJWT(t, time.Hour)
	m, refresher, logouts := newTestManager(t, &model.TokenPair{AccessToken: stale, RefreshToken: "r1"})
	refresher.err = apperrors.Unavailable("backend down", nil)

	_, err := m.Refresh(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))
	assert.True(t, m.HasSession(), "a network blip must not destroy the session")
	assert.Zero(t, atomic.LoadInt32(logouts))
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	stale := makeJWT(t, time.Hour)
	m, _, logouts := newTestManager(t, &model.TokenPair{AccessToken: stale})

	_, err := m.Refresh(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
	assert.EqualValues(t, 1, atomic.LoadInt32(logouts))
}

func TestForceLogoutRunsHookOnce(t *testing.T) {
	m, _, logouts := newTestManager(t, &model.TokenPair{AccessToken: "a", RefreshToken: "r"})

	m.ForceLogout()
	m.ForceLogout()
	m.ForceLogout()

	assert.EqualValues(t, 1, atomic.LoadInt32(logouts))
	assert.False(t, m.HasSession())
}

func TestSetTokensRestoresSession(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	assert.False(t, m.HasSession())

	access := makeJWT(t, time.Hour)
	require.NoError(t, m.SetTokens(&model.TokenPair{AccessToken: access, RefreshToken: "r1"}))
	assert.True(t, m.HasSession())

	got, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
}
