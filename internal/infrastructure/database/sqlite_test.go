package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClientLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected assigned ID")
	}
	if len(c.AccessToken) != 64 {
		t.Fatalf("expected 64-char token, got %d chars", len(c.AccessToken))
	}

	got, err := s.GetClientByToken(ctx, c.AccessToken)
	if err != nil {
		t.Fatalf("GetClientByToken: %v", err)
	}
	if got.ID != c.ID || got.Name != "acme" {
		t.Fatalf("unexpected client: %+v", got)
	}
	if !got.IsActive {
		t.Fatal("new client should be active")
	}

	name := "acme-renamed"
	active := false
	if err := s.UpdateClient(ctx, c.ID, domain.ClientUpdate{Name: &name, IsActive: &active}); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	got, err = s.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Name != name || got.IsActive {
		t.Fatalf("update not applied: %+v", got)
	}

	token, err := s.RegenerateClientToken(ctx, c.ID)
	if err != nil {
		t.Fatalf("RegenerateClientToken: %v", err)
	}
	if token == c.AccessToken {
		t.Fatal("token was not rotated")
	}
	if _, err := s.GetClientByToken(ctx, c.AccessToken); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("old token should be invalid, got %v", err)
	}

	if err := s.DeleteClient(ctx, c.ID); err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	if err := s.DeleteClient(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	a := &domain.Account{PhoneNumber: "+15550001122", SessionCredential: "blob"}
	if err := s.AddAccount(ctx, a); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.ClientID != nil {
		t.Fatal("new account should be unassigned")
	}
	if got.SessionCredential != "blob" {
		t.Fatal("session credential not persisted")
	}

	if err := s.AssignAccount(ctx, a.ID, &c.ID); err != nil {
		t.Fatalf("AssignAccount: %v", err)
	}
	assigned, err := s.ListClientAccounts(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListClientAccounts: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != a.ID {
		t.Fatalf("unexpected assigned accounts: %+v", assigned)
	}

	if err := s.AssignAccount(ctx, a.ID, nil); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	assigned, _ = s.ListClientAccounts(ctx, c.ID)
	if len(assigned) != 0 {
		t.Fatalf("expected no assigned accounts, got %d", len(assigned))
	}
}

func TestCampaignGroupsDeduplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	camp := &domain.Campaign{ClientID: c.ID, Name: "spring", MessageContent: "hi"}
	if err := s.CreateCampaign(ctx, camp); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if camp.Status != domain.CampaignIdle {
		t.Fatalf("expected idle status, got %q", camp.Status)
	}

	added, err := s.AddCampaignGroups(ctx, camp.ID, []string{"@a", "@b", "@a", "  ", "@c"})
	if err != nil {
		t.Fatalf("AddCampaignGroups: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 added, got %d", added)
	}

	added, err = s.AddCampaignGroups(ctx, camp.ID, []string{"@b", "@d"})
	if err != nil {
		t.Fatalf("AddCampaignGroups second batch: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 added, got %d", added)
	}

	groups, err := s.ListCampaignGroups(ctx, camp.ID)
	if err != nil {
		t.Fatalf("ListCampaignGroups: %v", err)
	}
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %v", groups)
	}

	if err := s.ClearCampaignGroups(ctx, camp.ID); err != nil {
		t.Fatalf("ClearCampaignGroups: %v", err)
	}
	groups, _ = s.ListCampaignGroups(ctx, camp.ID)
	if len(groups) != 0 {
		t.Fatalf("expected no groups after clear, got %v", groups)
	}
}

func TestCampaignAccountIDsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	camp := &domain.Campaign{
		ClientID:   c.ID,
		Name:       "targeted",
		SendMode:   domain.SendModeForward,
		AccountIDs: []int64{3, 7},
		Loop:       true,
	}
	if err := s.CreateCampaign(ctx, camp); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}

	got, err := s.GetCampaign(ctx, camp.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if len(got.AccountIDs) != 2 || got.AccountIDs[0] != 3 || got.AccountIDs[1] != 7 {
		t.Fatalf("account ids lost: %+v", got.AccountIDs)
	}
	if !got.Loop || got.SendMode != domain.SendModeForward {
		t.Fatalf("fields lost: %+v", got)
	}
}

func TestReconcileStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	for _, status := range []string{domain.CampaignRunning, domain.CampaignBatchPause, domain.CampaignCompleted} {
		camp := &domain.Campaign{ClientID: c.ID, Name: "x"}
		if err := s.CreateCampaign(ctx, camp); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}
		if err := s.UpdateCampaignStatus(ctx, camp.ID, status); err != nil {
			t.Fatalf("UpdateCampaignStatus: %v", err)
		}
	}

	n, err := s.ReconcileStale(ctx)
	if err != nil {
		t.Fatalf("ReconcileStale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reconciled, got %d", n)
	}

	campaigns, _ := s.ListCampaigns(ctx)
	for _, camp := range campaigns {
		if camp.Status == domain.CampaignRunning || camp.Status == domain.CampaignBatchPause {
			t.Fatalf("campaign %d left in live status %q", camp.ID, camp.Status)
		}
	}
}

func TestAnalyticsAccumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	if err := s.UpdateAnalytics(ctx, c.ID, 1, 10, 2); err != nil {
		t.Fatalf("UpdateAnalytics: %v", err)
	}
	if err := s.UpdateAnalytics(ctx, c.ID, 1, 5, 1); err != nil {
		t.Fatalf("UpdateAnalytics second: %v", err)
	}

	a, err := s.ClientAnalytics(ctx, c.ID)
	if err != nil {
		t.Fatalf("ClientAnalytics: %v", err)
	}
	if a.TotalBroadcasts != 2 || a.TotalSuccess != 15 || a.TotalFailed != 3 {
		t.Fatalf("unexpected analytics: %+v", a)
	}

	g, err := s.GlobalAnalytics(ctx)
	if err != nil {
		t.Fatalf("GlobalAnalytics: %v", err)
	}
	if g.TotalSuccess != 15 || g.TotalClients != 1 {
		t.Fatalf("unexpected global analytics: %+v", g)
	}

	// Unknown client reads back zeros, not an error.
	empty, err := s.ClientAnalytics(ctx, 9999)
	if err != nil {
		t.Fatalf("ClientAnalytics unknown: %v", err)
	}
	if empty.TotalBroadcasts != 0 {
		t.Fatalf("expected zero analytics, got %+v", empty)
	}
}

func TestBroadcastLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &domain.Client{Name: "acme"}
	if err := s.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	a := &domain.Account{PhoneNumber: "+15550001122"}
	if err := s.AddAccount(ctx, a); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}

	if err := s.AppendBroadcastLog(ctx, 1, a.ID, c.ID, "@grp", domain.OutcomeSent, ""); err != nil {
		t.Fatalf("AppendBroadcastLog: %v", err)
	}
	if err := s.AppendBroadcastLog(ctx, 1, a.ID, c.ID, "@grp2", domain.OutcomeFailed, "boom"); err != nil {
		t.Fatalf("AppendBroadcastLog: %v", err)
	}

	logs, err := s.ListBroadcastLogs(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListBroadcastLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	// Newest first.
	if logs[0].GroupName != "@grp2" || logs[0].Error != "boom" {
		t.Fatalf("unexpected first log: %+v", logs[0])
	}
	if logs[1].PhoneNumber != "+15550001122" {
		t.Fatalf("phone join missing: %+v", logs[1])
	}
}
