package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/pkg/security"
)

// TokenStore persists the credential pair across restarts.
type TokenStore interface {
	Load() (*model.TokenPair, error)
	Save(pair *model.TokenPair) error
	Clear() error
}

// FileTokenStore keeps the token pair in a single file, sealed with a
// key derived from the configured secret.
type FileTokenStore struct {
	path   string
	secret string
	mu     sync.Mutex
}

func NewFileTokenStore(path, secret string) (*FileTokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("token store path is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("token store secret is required")
	}
	return &FileTokenStore{path: path, secret: secret}, nil
}

func (s *FileTokenStore) Load() (*model.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}

	plain, err := security.Open(s.secret, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token store: %w", err)
	}

	var pair model.TokenPair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token pair: %w", err)
	}
	return &pair, nil
}

func (s *FileTokenStore) Save(pair *model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal token pair: %w", err)
	}

	sealed, err := security.Seal(s.secret, plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt token pair: %w", err)
	}
	return os.WriteFile(s.path, sealed, 0o600)
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemoryTokenStore holds the pair in memory, for tests.
type MemoryTokenStore struct {
	mu   sync.Mutex
	pair *model.TokenPair
}

func NewMemoryTokenStore(pair *model.TokenPair) *MemoryTokenStore {
	return &MemoryTokenStore{pair: pair}
}

func (s *MemoryTokenStore) Load() (*model.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return nil, nil
	}
	copied := *s.pair
	return &copied, nil
}

func (s *MemoryTokenStore) Save(pair *model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pair
	s.pair = &copied
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}
