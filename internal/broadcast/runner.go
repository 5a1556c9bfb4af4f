package broadcast

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
	"github.com/eyeconlabs/bump-service/internal/progress"
	"github.com/eyeconlabs/bump-service/internal/ratelimit"
)

// Campaign modes.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

const (
	// cyclePauseMin/Max bound the rest between cycles of a looping campaign.
	cyclePauseMin = 600 * time.Second
	cyclePauseMax = 900 * time.Second
)

// Runner drives campaign send loops. One live run per campaign; finished
// runs stay queryable until the campaign is started again.
type Runner struct {
	sessions domain.SessionProvider
	store    domain.Store
	producer domain.EventProducer
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	pauseMin time.Duration
	pauseMax time.Duration

	mu   sync.Mutex
	runs map[int64]*run

	wg sync.WaitGroup
}

// RunnerConfig holds dependencies for the Runner
type RunnerConfig struct {
	Sessions domain.SessionProvider
	Store    domain.Store
	Producer domain.EventProducer
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// NewRunner creates a campaign runner
func NewRunner(cfg RunnerConfig) *Runner {
	m := cfg.Metrics
	if m == nil {
		m = metrics.GetDefaultMetrics()
	}
	return &Runner{
		sessions: cfg.Sessions,
		store:    cfg.Store,
		producer: cfg.Producer,
		logger:   cfg.Logger.With().Str("component", "campaign_runner").Logger(),
		metrics:  m,
		pauseMin: cyclePauseMin,
		pauseMax: cyclePauseMax,
		runs:     make(map[int64]*run),
	}
}

// run is the live state of one campaign execution.
type run struct {
	campaign *domain.Campaign
	mode     string
	cancel   context.CancelFunc
	done     chan struct{}

	log *progress.Log

	mu           sync.Mutex
	status       string
	cycle        int
	currentGroup string
	errMsg       string
	total        int
	sent         int
	failed       int
	accounts     map[int64]*domain.AccountRunState
	removed      map[int64]bool
	live         bool
}

func (r *run) snapshot() *domain.CampaignProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := make(map[int64]domain.AccountRunState, len(r.accounts))
	for id, st := range r.accounts {
		accounts[id] = *st
	}
	return &domain.CampaignProgress{
		Status:       r.status,
		Mode:         r.mode,
		Total:        r.total,
		Sent:         r.sent,
		Failed:       r.failed,
		CurrentGroup: r.currentGroup,
		Cycle:        r.cycle,
		Error:        r.errMsg,
		Accounts:     accounts,
		RecentLogs:   r.log.Recent(),
	}
}

func (r *run) setStatus(status string) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *run) isRemoved(accountID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed[accountID]
}

// Start launches a campaign run. accountIDs, when non-empty, overrides the
// campaign's own account selection. Returns ErrAlreadyRunning if a live run
// exists, ErrNoActiveAccounts or ErrNoTargets when nothing can be done.
func (r *Runner) Start(ctx context.Context, campaignID int64, mode string, accountIDs []int64) error {
	if mode == "" {
		mode = ModeParallel
	}
	if mode != ModeParallel && mode != ModeSequential {
		return fmt.Errorf("unknown mode %q", mode)
	}

	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	accounts, err := r.resolveAccounts(ctx, campaign, accountIDs)
	if err != nil {
		return err
	}

	var groups []string
	if mode == ModeSequential {
		groups, err = r.store.ListCampaignGroups(ctx, campaignID)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			return domain.ErrNoTargets
		}
	}

	r.mu.Lock()
	if existing, ok := r.runs[campaignID]; ok && existing.isLive() {
		r.mu.Unlock()
		return domain.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rn := &run{
		campaign: campaign,
		mode:     mode,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      progress.NewLog(progress.DefaultLogCap),
		status:   domain.CampaignRunning,
		cycle:    1,
		accounts: make(map[int64]*domain.AccountRunState),
		removed:  make(map[int64]bool),
		live:     true,
	}
	for _, a := range accounts {
		rn.accounts[a.ID] = &domain.AccountRunState{
			AccountID: a.ID,
			Phone:     a.PhoneNumber,
			Status:    domain.RunStatusStarting,
		}
	}
	r.runs[campaignID] = rn
	r.mu.Unlock()

	if err := r.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignRunning); err != nil {
		r.logger.Error().Err(err).Int64("campaign_id", campaignID).Msg("failed to persist running status")
	}
	r.metrics.ActiveCampaigns.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(rn.done)
		defer r.metrics.ActiveCampaigns.Dec()
		r.execute(runCtx, rn, accounts, groups)
	}()

	r.logger.Info().
		Int64("campaign_id", campaignID).
		Str("mode", mode).
		Int("accounts", len(accounts)).
		Msg("campaign started")
	return nil
}

func (rn *run) isLive() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.live
}

// resolveAccounts picks the accounts a run will use.
func (r *Runner) resolveAccounts(ctx context.Context, campaign *domain.Campaign, override []int64) ([]domain.Account, error) {
	ids := override
	if len(ids) == 0 {
		ids = campaign.AccountIDs
	}

	if len(ids) > 0 {
		accounts := make([]domain.Account, 0, len(ids))
		for _, id := range ids {
			a, err := r.store.GetAccount(ctx, id)
			if err != nil {
				return nil, err
			}
			if !a.IsActive {
				continue
			}
			accounts = append(accounts, *a)
		}
		if len(accounts) == 0 {
			return nil, domain.ErrNoActiveAccounts
		}
		return accounts, nil
	}

	all, err := r.store.ListClientAccounts(ctx, campaign.ClientID)
	if err != nil {
		return nil, err
	}
	accounts := all[:0]
	for _, a := range all {
		if a.IsActive {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		return nil, domain.ErrNoActiveAccounts
	}
	return accounts, nil
}

// Stop cancels a live run. The run transitions to stopped once its workers
// reach a suspension point.
func (r *Runner) Stop(campaignID int64) error {
	r.mu.Lock()
	rn, ok := r.runs[campaignID]
	r.mu.Unlock()
	if !ok || !rn.isLive() {
		return domain.ErrNotRunning
	}

	rn.setStatus(domain.CampaignStopped)
	rn.cancel()
	r.logger.Info().Int64("campaign_id", campaignID).Msg("campaign stop requested")
	return nil
}

// RemoveAccount withdraws an account from a live run. Its worker exits at
// the next suspension point; other workers continue.
func (r *Runner) RemoveAccount(campaignID, accountID int64) error {
	r.mu.Lock()
	rn, ok := r.runs[campaignID]
	r.mu.Unlock()
	if !ok || !rn.isLive() {
		return domain.ErrNotRunning
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	st, ok := rn.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	rn.removed[accountID] = true
	if st.Status == domain.RunStatusStarting || st.Status == domain.RunStatusRunning || st.Status == domain.RunStatusFloodWait {
		st.Status = domain.RunStatusRemoved
	}
	r.logger.Info().Int64("campaign_id", campaignID).Int64("account_id", accountID).Msg("account removed from run")
	return nil
}

// Status returns the progress snapshot for a campaign. Finished runs keep
// reporting their final state; campaigns never started in this process fall
// back to the persisted status.
func (r *Runner) Status(ctx context.Context, campaignID int64) (*domain.CampaignProgress, error) {
	r.mu.Lock()
	rn, ok := r.runs[campaignID]
	r.mu.Unlock()
	if ok {
		return rn.snapshot(), nil
	}

	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &domain.CampaignProgress{
		Status:   campaign.Status,
		Accounts: map[int64]domain.AccountRunState{},
	}, nil
}

// IsRunning reports whether a campaign has a live run.
func (r *Runner) IsRunning(campaignID int64) bool {
	r.mu.Lock()
	rn, ok := r.runs[campaignID]
	r.mu.Unlock()
	return ok && rn.isLive()
}

// Shutdown cancels every live run and waits for workers to drain.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	for _, rn := range r.runs {
		if rn.isLive() {
			rn.setStatus(domain.CampaignStopped)
			rn.cancel()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn().Msg("shutdown timeout waiting for campaign workers")
	}
}

// execute runs the campaign until completion, stop or failure.
func (r *Runner) execute(ctx context.Context, rn *run, accounts []domain.Account, groups []string) {
	logger := r.logger.With().Int64("campaign_id", rn.campaign.ID).Str("mode", rn.mode).Logger()

	var finalErr error
	switch rn.mode {
	case ModeSequential:
		finalErr = r.runSequential(ctx, rn, accounts, groups, logger)
	default:
		finalErr = r.runParallel(ctx, rn, accounts, logger)
	}

	final := domain.CampaignCompleted
	switch {
	case ctx.Err() != nil:
		final = domain.CampaignStopped
	case finalErr != nil:
		final = domain.CampaignFailed
		rn.mu.Lock()
		rn.errMsg = finalErr.Error()
		rn.mu.Unlock()
	}

	rn.mu.Lock()
	rn.status = final
	rn.live = false
	rn.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := r.store.UpdateCampaignStatus(persistCtx, rn.campaign.ID, final); err != nil {
		logger.Error().Err(err).Msg("failed to persist final status")
	}
	cancel()

	logger.Info().Str("status", final).Err(finalErr).Msg("campaign finished")
}

// cyclePause rests between cycles of a looping campaign.
func (r *Runner) cyclePause(ctx context.Context, rn *run) error {
	pause := r.pauseMin + time.Duration(rand.Int63n(int64(r.pauseMax-r.pauseMin)))
	rn.setStatus(domain.CampaignBatchPause)
	r.logger.Info().Int64("campaign_id", rn.campaign.ID).Dur("pause", pause).Msg("cycle pause")
	if err := ratelimit.Sleep(ctx, pause); err != nil {
		return err
	}
	rn.setStatus(domain.CampaignRunning)
	return nil
}

// record handles one send outcome: progress log, persistent log, metrics
// and the analytics event.
func (r *Runner) record(ctx context.Context, rn *run, accountID int64, phone, group, status, errMsg string) {
	rn.mu.Lock()
	cycle := rn.cycle
	switch status {
	case domain.OutcomeSent:
		rn.sent++
	case domain.OutcomeFailed:
		rn.failed++
	}
	rn.mu.Unlock()

	rn.log.Append(domain.BroadcastLogEntry{
		Group:   group,
		Status:  status,
		Error:   errMsg,
		Account: phone,
		Cycle:   cycle,
	})

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := r.store.AppendBroadcastLog(persistCtx, rn.campaign.ID, accountID, rn.campaign.ClientID, group, status, errMsg); err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist broadcast log")
	}

	success, failed := 0, 0
	switch status {
	case domain.OutcomeSent:
		success = 1
	case domain.OutcomeFailed:
		failed = 1
	}
	if success > 0 || failed > 0 {
		if err := r.store.UpdateAnalytics(persistCtx, rn.campaign.ClientID, 0, success, failed); err != nil {
			r.logger.Warn().Err(err).Msg("failed to update analytics")
		}
	}
	cancel()

	if r.producer != nil {
		event := domain.BroadcastEvent{
			CampaignID: rn.campaign.ID,
			ClientID:   rn.campaign.ClientID,
			AccountID:  accountID,
			Group:      group,
			Status:     status,
			Error:      errMsg,
			Cycle:      cycle,
			Timestamp:  time.Now().UTC(),
		}
		if err := r.producer.PublishBroadcast(ctx, event); err != nil {
			r.logger.Warn().Err(err).Msg("failed to publish broadcast event")
		}
	}
}
