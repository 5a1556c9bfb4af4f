package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
)

// ClientFactory builds a TelegramClient for an account record.
type ClientFactory func(account *domain.Account) (domain.TelegramClient, error)

// SessionStore hands out the single live client per account. A checkout is
// exclusive; concurrent callers get ErrAccountBusy until the release
// function runs. Connected clients are cached across checkouts so repeated
// campaign runs reuse the MTProto connection.
type SessionStore struct {
	store   domain.Store
	factory ClientFactory
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[int64]*sessionEntry
}

type sessionEntry struct {
	client domain.TelegramClient
	busy   bool
}

// SessionStoreConfig holds configuration for SessionStore
type SessionStoreConfig struct {
	APIID   int
	APIHash string
	Store   domain.Store
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Factory overrides the default MTProto client constructor
	Factory ClientFactory
}

// NewSessionStore creates a session store over the account records
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	s := &SessionStore{
		store:   cfg.Store,
		logger:  cfg.Logger.With().Str("component", "session_store").Logger(),
		metrics: cfg.Metrics,
		entries: make(map[int64]*sessionEntry),
	}
	if s.metrics == nil {
		s.metrics = metrics.GetDefaultMetrics()
	}
	if cfg.Factory != nil {
		s.factory = cfg.Factory
	} else {
		s.factory = func(account *domain.Account) (domain.TelegramClient, error) {
			return NewMTProtoClient(MTProtoClientConfig{
				APIID:       cfg.APIID,
				APIHash:     cfg.APIHash,
				AccountID:   account.ID,
				PhoneNumber: account.PhoneNumber,
				Store:       cfg.Store,
				Logger:      cfg.Logger,
			})
		}
	}
	return s
}

// Checkout returns the connected client for an account, marking it busy
// until the returned release function is called. Returns ErrAccountBusy if
// another holder has the account, ErrSessionExpired if the stored session
// no longer authorizes.
func (s *SessionStore) Checkout(ctx context.Context, accountID int64) (domain.TelegramClient, func(), error) {
	s.mu.Lock()
	entry, ok := s.entries[accountID]
	if !ok {
		entry = &sessionEntry{}
		s.entries[accountID] = entry
	}
	if entry.busy {
		s.mu.Unlock()
		s.metrics.RecordCheckoutBusy()
		return nil, nil, domain.ErrAccountBusy
	}
	entry.busy = true
	client := entry.client
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		entry.busy = false
		s.mu.Unlock()
	}

	fail := func(err error) (domain.TelegramClient, func(), error) {
		release()
		return nil, nil, err
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return fail(err)
	}
	if !account.IsActive {
		return fail(fmt.Errorf("%w: account %d is inactive", domain.ErrNoActiveAccounts, accountID))
	}
	if account.SessionCredential == "" {
		return fail(domain.ErrSessionExpired)
	}

	if client == nil {
		client, err = s.factory(account)
		if err != nil {
			return fail(fmt.Errorf("failed to create client: %w", err))
		}
		s.mu.Lock()
		entry.client = client
		s.mu.Unlock()
	}

	if !client.IsConnected() {
		connectCtx, cancel := context.WithTimeout(ctx, 90*time.Second)
		err := client.Connect(connectCtx)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Int64("account_id", accountID).Msg("failed to connect account")
			return fail(err)
		}
	}

	s.metrics.RecordCheckout()
	return client, release, nil
}

// Invalidate drops the cached client so the next checkout reconnects.
// Used after session-fatal errors.
func (s *SessionStore) Invalidate(accountID int64) {
	s.mu.Lock()
	entry, ok := s.entries[accountID]
	var client domain.TelegramClient
	if ok {
		client = entry.client
		entry.client = nil
	}
	s.mu.Unlock()

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = client.Disconnect(ctx)
		cancel()
	}
	s.metrics.RecordSessionInvalidated()
	s.logger.Info().Int64("account_id", accountID).Msg("session invalidated")
}

// Shutdown disconnects every cached client
func (s *SessionStore) Shutdown(ctx context.Context) {
	s.mu.Lock()
	clients := make([]domain.TelegramClient, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.client != nil {
			clients = append(clients, entry.client)
		}
		entry.client = nil
	}
	s.mu.Unlock()

	for _, client := range clients {
		_ = client.Disconnect(ctx)
	}
	s.logger.Info().Int("count", len(clients)).Msg("session store shut down")
}

// Ensure SessionStore implements domain.SessionProvider interface
var _ domain.SessionProvider = (*SessionStore)(nil)
