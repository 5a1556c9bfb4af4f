package broadcast

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/database"
)

type stubClient struct {
	accountID int64
	dialogs   []domain.ChatRef

	mu        sync.Mutex
	sent      []string
	forwarded []string
	sendErr   func(target string) error
	gate      chan struct{} // when set, sends block until the gate closes
}

func (s *stubClient) Connect(ctx context.Context) error    { return nil }
func (s *stubClient) Disconnect(ctx context.Context) error { return nil }
func (s *stubClient) IsConnected() bool                    { return true }
func (s *stubClient) AccountID() int64                     { return s.accountID }
func (s *stubClient) Phone() string                        { return fmt.Sprintf("+1%010d", s.accountID) }

func (s *stubClient) Dialogs(ctx context.Context) ([]domain.ChatRef, error) {
	return s.dialogs, nil
}

func (s *stubClient) Resolve(ctx context.Context, target string) (domain.ChatRef, error) {
	return domain.ChatRef{ID: int64(len(target)), Kind: domain.ChatKindChannel, Username: target}, nil
}

func (s *stubClient) SendMessage(ctx context.Context, chat domain.ChatRef, text string, topicID int) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	name := chat.Name()
	s.mu.Lock()
	errFn := s.sendErr
	s.mu.Unlock()
	if errFn != nil {
		if err := errFn(name); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, name)
	s.mu.Unlock()
	return nil
}

func (s *stubClient) Forward(ctx context.Context, chat domain.ChatRef, src domain.ForwardSource) error {
	s.mu.Lock()
	s.forwarded = append(s.forwarded, chat.Name())
	s.mu.Unlock()
	return nil
}

func (s *stubClient) JoinChat(ctx context.Context, target string) error          { return nil }
func (s *stubClient) JoinChatRef(ctx context.Context, chat domain.ChatRef) error { return nil }
func (s *stubClient) CheckFolder(ctx context.Context, slug string) (*domain.FolderInvite, error) {
	return &domain.FolderInvite{Slug: slug}, nil
}
func (s *stubClient) JoinFolder(ctx context.Context, slug string, peerLimit int) (*domain.FolderJoinResult, error) {
	return &domain.FolderJoinResult{}, nil
}
func (s *stubClient) DeleteSharedFolders(ctx context.Context) (int, error) { return 0, nil }
func (s *stubClient) WipeDialogs(ctx context.Context) (*domain.WipeReport, error) {
	return &domain.WipeReport{}, nil
}

func (s *stubClient) sentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

type stubSessions struct {
	mu      sync.Mutex
	clients map[int64]*stubClient
	busy    map[int64]bool
}

func (s *stubSessions) Checkout(ctx context.Context, accountID int64) (domain.TelegramClient, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[accountID] {
		return nil, nil, domain.ErrAccountBusy
	}
	client, ok := s.clients[accountID]
	if !ok {
		return nil, nil, domain.ErrSessionExpired
	}
	s.busy[accountID] = true
	release := func() {
		s.mu.Lock()
		s.busy[accountID] = false
		s.mu.Unlock()
	}
	return client, release, nil
}

func (s *stubSessions) Invalidate(accountID int64) {}

func groupRef(id int64, title string) domain.ChatRef {
	return domain.ChatRef{ID: id, Kind: domain.ChatKindChannel, Title: title}
}

type fixture struct {
	runner   *Runner
	store    *database.SQLiteStore
	sessions *stubSessions
	client   *domain.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := &domain.Client{Name: "acme"}
	if err := db.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	sessions := &stubSessions{clients: map[int64]*stubClient{}, busy: map[int64]bool{}}
	runner := NewRunner(RunnerConfig{
		Sessions: sessions,
		Store:    db,
		Logger:   zerolog.Nop(),
	})
	return &fixture{runner: runner, store: db, sessions: sessions, client: c}
}

func (f *fixture) addAccount(t *testing.T, dialogs ...domain.ChatRef) (*domain.Account, *stubClient) {
	t.Helper()
	a := &domain.Account{
		PhoneNumber:       fmt.Sprintf("+1555%07d", len(f.sessions.clients)),
		SessionCredential: "blob",
	}
	if err := f.store.AddAccount(context.Background(), a); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if err := f.store.AssignAccount(context.Background(), a.ID, &f.client.ID); err != nil {
		t.Fatalf("AssignAccount: %v", err)
	}
	client := &stubClient{accountID: a.ID, dialogs: dialogs}
	f.sessions.mu.Lock()
	f.sessions.clients[a.ID] = client
	f.sessions.mu.Unlock()
	return a, client
}

func (f *fixture) addCampaign(t *testing.T, c *domain.Campaign) *domain.Campaign {
	t.Helper()
	c.ClientID = f.client.ID
	if c.DelaySeconds == 0 {
		c.DelaySeconds = 1
	}
	if err := f.store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	return c
}

func waitFinished(t *testing.T, r *Runner, campaignID int64) *domain.CampaignProgress {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		p, err := r.Status(context.Background(), campaignID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if p.Status != domain.CampaignRunning && p.Status != domain.CampaignBatchPause {
			return p
		}
		select {
		case <-deadline:
			t.Fatalf("campaign %d did not finish, status %q", campaignID, p.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestParallelRunCompletes(t *testing.T) {
	f := newFixture(t)
	_, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := waitFinished(t, f.runner, camp.ID)
	if p.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %q (%s)", p.Status, p.Error)
	}
	if p.Sent != 2 || p.Failed != 0 {
		t.Fatalf("expected 2 sent, got sent=%d failed=%d", p.Sent, p.Failed)
	}
	if got := client.sentNames(); len(got) != 2 {
		t.Fatalf("expected 2 sends, got %v", got)
	}
	if len(p.RecentLogs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(p.RecentLogs))
	}
	if p.RecentLogs[0].Index != 0 || p.RecentLogs[1].Index != 1 {
		t.Fatalf("log indexes not monotonic: %+v", p.RecentLogs)
	}

	stored, err := f.store.GetCampaign(context.Background(), camp.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if stored.Status != domain.CampaignCompleted {
		t.Fatalf("persisted status %q", stored.Status)
	}

	logs, err := f.store.ListBroadcastLogs(context.Background(), camp.ID, 10)
	if err != nil {
		t.Fatalf("ListBroadcastLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 persisted logs, got %d", len(logs))
	}
}

func TestStartRejectsSecondRun(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	_, client := f.addAccount(t, groupRef(1, "alpha"))
	client.gate = gate
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(gate)
	p := waitFinished(t, f.runner, camp.ID)
	if p.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %q", p.Status)
	}

	// A finished run may be started again.
	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFinished(t, f.runner, camp.ID)
}

func TestStopCancelsRun(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	_, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))
	client.gate = gate
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.runner.Stop(camp.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	p := waitFinished(t, f.runner, camp.ID)
	if p.Status != domain.CampaignStopped {
		t.Fatalf("expected stopped, got %q", p.Status)
	}
	if err := f.runner.Stop(camp.ID); !errors.Is(err, domain.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning on finished run, got %v", err)
	}

	stored, _ := f.store.GetCampaign(context.Background(), camp.ID)
	if stored.Status != domain.CampaignStopped {
		t.Fatalf("persisted status %q", stored.Status)
	}
}

func TestSequentialRotation(t *testing.T) {
	f := newFixture(t)
	_, clientA := f.addAccount(t)
	_, clientB := f.addAccount(t)
	camp := f.addCampaign(t, &domain.Campaign{Name: "seq", MessageContent: "hi"})
	if _, err := f.store.AddCampaignGroups(context.Background(), camp.ID, []string{"g1", "g22", "g333", "g4444"}); err != nil {
		t.Fatalf("AddCampaignGroups: %v", err)
	}

	if err := f.runner.Start(context.Background(), camp.ID, ModeSequential, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := waitFinished(t, f.runner, camp.ID)
	if p.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %q (%s)", p.Status, p.Error)
	}
	if p.Sent != 4 {
		t.Fatalf("expected 4 sent, got %d", p.Sent)
	}
	// Round-robin: each account gets half the groups.
	if len(clientA.sentNames()) != 2 || len(clientB.sentNames()) != 2 {
		t.Fatalf("rotation uneven: a=%v b=%v", clientA.sentNames(), clientB.sentNames())
	}
}

func TestSequentialNoTargets(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t)
	camp := f.addCampaign(t, &domain.Campaign{Name: "seq", MessageContent: "hi"})

	err := f.runner.Start(context.Background(), camp.ID, ModeSequential, nil)
	if !errors.Is(err, domain.ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestStartNoActiveAccounts(t *testing.T) {
	f := newFixture(t)
	a, _ := f.addAccount(t, groupRef(1, "alpha"))
	inactive := false
	if err := f.store.UpdateAccount(context.Background(), a.ID, domain.AccountUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil)
	if !errors.Is(err, domain.ErrNoActiveAccounts) {
		t.Fatalf("expected ErrNoActiveAccounts, got %v", err)
	}
}

func TestFloodWaitSkipRecorded(t *testing.T) {
	f := newFixture(t)
	_, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))
	client.sendErr = func(target string) error {
		if target == "alpha" {
			return &domain.FloodWaitError{Duration: 10 * time.Minute}
		}
		return nil
	}
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)

	if p.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %q", p.Status)
	}
	// Flood waits land in the log under their own status, not in failed.
	if p.Sent != 1 || p.Failed != 0 {
		t.Fatalf("expected 1 sent 0 failed, got sent=%d failed=%d", p.Sent, p.Failed)
	}

	var flood *domain.BroadcastLogEntry
	for i := range p.RecentLogs {
		if p.RecentLogs[i].Status == domain.OutcomeFloodWait {
			flood = &p.RecentLogs[i]
		}
	}
	if flood == nil || flood.Group != "alpha" {
		t.Fatalf("expected flood_wait log for alpha, got %+v", p.RecentLogs)
	}
}

func TestFloodWaitSingleAttemptPerCycle(t *testing.T) {
	f := newFixture(t)
	_, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))

	var mu sync.Mutex
	attempts := map[string]int{}
	client.sendErr = func(target string) error {
		mu.Lock()
		attempts[target]++
		first := attempts[target] == 1
		mu.Unlock()
		if target == "alpha" && first {
			return &domain.FloodWaitError{Duration: 10 * time.Millisecond}
		}
		return nil
	}
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)

	if p.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %q (%s)", p.Status, p.Error)
	}
	mu.Lock()
	alphaAttempts := attempts["alpha"]
	mu.Unlock()
	if alphaAttempts != 1 {
		t.Fatalf("flood-waited target must not be re-sent within the cycle, got %d attempts", alphaAttempts)
	}
	if p.Sent != 1 || p.Failed != 0 {
		t.Fatalf("expected 1 sent 0 failed, got sent=%d failed=%d", p.Sent, p.Failed)
	}
	flood := 0
	for _, l := range p.RecentLogs {
		if l.Status == domain.OutcomeFloodWait && l.Group == "alpha" {
			flood++
		}
	}
	if flood != 1 {
		t.Fatalf("expected exactly 1 flood_wait entry for alpha, got %d (%+v)", flood, p.RecentLogs)
	}
}

func TestLoopCycleRollover(t *testing.T) {
	f := newFixture(t)
	f.runner.pauseMin = 10 * time.Millisecond
	f.runner.pauseMax = 20 * time.Millisecond
	f.addAccount(t, groupRef(1, "alpha"))
	camp := f.addCampaign(t, &domain.Campaign{Name: "loop", MessageContent: "hi", Loop: true})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(30 * time.Second)
	for {
		p, err := f.runner.Status(context.Background(), camp.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		// Cycle and total roll over together, so completed cycles never
		// push the snapshot past its own cycle budget.
		if p.Total > 0 {
			done := p.Sent + p.Failed - (p.Cycle-1)*p.Total
			if done < 0 || done > p.Total {
				t.Fatalf("incoherent snapshot: sent=%d failed=%d cycle=%d total=%d", p.Sent, p.Failed, p.Cycle, p.Total)
			}
		}
		if p.Cycle >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("campaign never reached cycle 3, at %d", p.Cycle)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := f.runner.Stop(camp.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)
	if p.Status != domain.CampaignStopped {
		t.Fatalf("expected stopped, got %q", p.Status)
	}
}

func TestPermissionDeniedSkips(t *testing.T) {
	f := newFixture(t)
	_, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))
	client.sendErr = func(target string) error {
		if target == "alpha" {
			return domain.ErrPermissionDenied
		}
		return nil
	}
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)

	if p.Sent != 1 || p.Failed != 0 {
		t.Fatalf("permission denied must skip, got sent=%d failed=%d", p.Sent, p.Failed)
	}
	skipped := 0
	for _, l := range p.RecentLogs {
		if l.Status == domain.OutcomeSkipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped entry, got %d", skipped)
	}
}

func TestSessionExpiredAbortsOneWorker(t *testing.T) {
	f := newFixture(t)
	a1, bad := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"))
	_, good := f.addAccount(t, groupRef(3, "gamma"))
	bad.sendErr = func(target string) error { return domain.ErrSessionExpired }
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)

	if p.Status != domain.CampaignCompleted {
		t.Fatalf("one healthy worker should complete the run, got %q", p.Status)
	}
	if st := p.Accounts[a1.ID]; st.Status != domain.RunStatusError {
		t.Fatalf("expected error status for expired account, got %q", st.Status)
	}
	if len(good.sentNames()) != 1 {
		t.Fatalf("healthy account should have sent, got %v", good.sentNames())
	}
}

func TestRemoveAccountStopsWorker(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	a, client := f.addAccount(t, groupRef(1, "alpha"), groupRef(2, "beta"), groupRef(3, "gamma"))
	client.gate = gate
	camp := f.addCampaign(t, &domain.Campaign{Name: "spring", MessageContent: "hi"})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.runner.RemoveAccount(camp.ID, a.ID); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	close(gate)

	p := waitFinished(t, f.runner, camp.ID)
	if st := p.Accounts[a.ID]; st.Status != domain.RunStatusRemoved {
		t.Fatalf("expected removed status, got %q", st.Status)
	}
	if got := len(client.sentNames()); got >= 3 {
		t.Fatalf("removed account should not finish all targets, sent %d", got)
	}
}

func TestStatusUnknownCampaign(t *testing.T) {
	f := newFixture(t)
	if _, err := f.runner.Status(context.Background(), 12345); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForwardMode(t *testing.T) {
	f := newFixture(t)
	_, client := f.addAccount(t, groupRef(1, "alpha"))
	camp := f.addCampaign(t, &domain.Campaign{
		Name:                "fw",
		SendMode:            domain.SendModeForward,
		ForwardFromUsername: "source",
		ForwardMessageID:    42,
	})

	if err := f.runner.Start(context.Background(), camp.ID, ModeParallel, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := waitFinished(t, f.runner, camp.ID)

	if p.Sent != 1 {
		t.Fatalf("expected 1 forward counted as sent, got %d", p.Sent)
	}
	client.mu.Lock()
	forwarded := len(client.forwarded)
	client.mu.Unlock()
	if forwarded != 1 {
		t.Fatalf("expected 1 forward, got %d", forwarded)
	}
}
