package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gotd/td/session"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

// DBSessionStorage implements session.Storage backed by the account record.
// The MTProto session blob is kept base64-encoded in the account's
// session_credential column so accounts survive restarts without any
// filesystem state.
type DBSessionStorage struct {
	store     domain.Store
	accountID int64

	mu     sync.Mutex
	cached []byte
}

// NewDBSessionStorage creates session storage for one account
func NewDBSessionStorage(store domain.Store, accountID int64) *DBSessionStorage {
	return &DBSessionStorage{store: store, accountID: accountID}
}

// LoadSession loads session data from the account record
func (s *DBSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if s.cached != nil {
		data := s.cached
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	account, err := s.store.GetAccount(ctx, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.SessionCredential == "" {
		return nil, session.ErrNotFound
	}

	data, err := base64.StdEncoding.DecodeString(account.SessionCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session credential: %w", err)
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}

	s.mu.Lock()
	s.cached = data
	s.mu.Unlock()
	return data, nil
}

// StoreSession stores session data on the account record
func (s *DBSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	s.mu.Lock()
	s.cached = data
	s.mu.Unlock()

	credential := base64.StdEncoding.EncodeToString(data)
	if err := s.store.UpdateAccountSession(ctx, s.accountID, credential); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Ensure DBSessionStorage implements session.Storage interface
var _ session.Storage = (*DBSessionStorage)(nil)
