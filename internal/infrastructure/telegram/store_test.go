package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/database"
)

type fakeClient struct {
	accountID    int64
	connected    bool
	connectCalls int
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.connectCalls++
	f.connected = true
	return nil
}
func (f *fakeClient) Disconnect(ctx context.Context) error { f.connected = false; return nil }
func (f *fakeClient) IsConnected() bool                    { return f.connected }
func (f *fakeClient) AccountID() int64                     { return f.accountID }
func (f *fakeClient) Phone() string                        { return "+10000000000" }
func (f *fakeClient) Dialogs(ctx context.Context) ([]domain.ChatRef, error) {
	return nil, nil
}
func (f *fakeClient) Resolve(ctx context.Context, target string) (domain.ChatRef, error) {
	return domain.ChatRef{}, domain.ErrNotFound
}
func (f *fakeClient) SendMessage(ctx context.Context, chat domain.ChatRef, text string, topicID int) error {
	return nil
}
func (f *fakeClient) Forward(ctx context.Context, chat domain.ChatRef, src domain.ForwardSource) error {
	return nil
}
func (f *fakeClient) JoinChat(ctx context.Context, target string) error          { return nil }
func (f *fakeClient) JoinChatRef(ctx context.Context, chat domain.ChatRef) error { return nil }
func (f *fakeClient) CheckFolder(ctx context.Context, slug string) (*domain.FolderInvite, error) {
	return &domain.FolderInvite{Slug: slug}, nil
}
func (f *fakeClient) JoinFolder(ctx context.Context, slug string, peerLimit int) (*domain.FolderJoinResult, error) {
	return &domain.FolderJoinResult{}, nil
}
func (f *fakeClient) DeleteSharedFolders(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeClient) WipeDialogs(ctx context.Context) (*domain.WipeReport, error) {
	return &domain.WipeReport{}, nil
}

func newTestSessionStore(t *testing.T) (*SessionStore, domain.Store, *domain.Account, *fakeClient) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	account := &domain.Account{PhoneNumber: "+10000000000", SessionCredential: "c2Vzc2lvbg=="}
	if err := db.AddAccount(context.Background(), account); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	fake := &fakeClient{accountID: account.ID}
	store := NewSessionStore(SessionStoreConfig{
		Store:  db,
		Logger: zerolog.Nop(),
		Factory: func(a *domain.Account) (domain.TelegramClient, error) {
			fake.accountID = a.ID
			return fake, nil
		},
	})
	return store, db, account, fake
}

func TestCheckoutExclusive(t *testing.T) {
	store, _, account, _ := newTestSessionStore(t)
	ctx := context.Background()

	client, release, err := store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if client.AccountID() != account.ID {
		t.Fatalf("wrong client: %d", client.AccountID())
	}

	if _, _, err := store.Checkout(ctx, account.ID); !errors.Is(err, domain.ErrAccountBusy) {
		t.Fatalf("expected ErrAccountBusy, got %v", err)
	}

	release()

	_, release2, err := store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout after release: %v", err)
	}
	release2()
}

func TestCheckoutReusesConnection(t *testing.T) {
	store, _, account, fake := newTestSessionStore(t)
	ctx := context.Background()

	_, release, err := store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	release()

	_, release, err = store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	release()

	if fake.connectCalls != 1 {
		t.Fatalf("expected 1 connect, got %d", fake.connectCalls)
	}
}

func TestCheckoutInactiveAccount(t *testing.T) {
	store, db, account, _ := newTestSessionStore(t)
	ctx := context.Background()

	inactive := false
	if err := db.UpdateAccount(ctx, account.ID, domain.AccountUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}

	if _, _, err := store.Checkout(ctx, account.ID); !errors.Is(err, domain.ErrNoActiveAccounts) {
		t.Fatalf("expected ErrNoActiveAccounts, got %v", err)
	}

	// A failed checkout must not leave the account busy.
	active := true
	if err := db.UpdateAccount(ctx, account.ID, domain.AccountUpdate{IsActive: &active}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	_, release, err := store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout after reactivation: %v", err)
	}
	release()
}

func TestCheckoutMissingSession(t *testing.T) {
	store, db, account, _ := newTestSessionStore(t)
	ctx := context.Background()

	if err := db.UpdateAccountSession(ctx, account.ID, ""); err != nil {
		t.Fatalf("UpdateAccountSession: %v", err)
	}

	if _, _, err := store.Checkout(ctx, account.ID); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestInvalidateDropsClient(t *testing.T) {
	store, _, account, fake := newTestSessionStore(t)
	ctx := context.Background()

	_, release, err := store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	release()

	store.Invalidate(account.ID)
	if fake.connected {
		t.Fatal("invalidated client should be disconnected")
	}

	_, release, err = store.Checkout(ctx, account.ID)
	if err != nil {
		t.Fatalf("Checkout after invalidate: %v", err)
	}
	release()

	if fake.connectCalls != 2 {
		t.Fatalf("expected reconnect after invalidate, got %d connects", fake.connectCalls)
	}
}
