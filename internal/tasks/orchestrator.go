package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
	"github.com/eyeconlabs/bump-service/internal/progress"
)

// Task kinds.
const (
	KindFolderJoin     = "join_folders"
	KindGlobalJoin     = "global_join"
	KindBulkGlobalJoin = "bulk_global_join"
	KindNuclearWipe    = "nuclear_wipe"
)

// Orchestrator launches and tracks background account tasks. Tasks run
// detached from the request that started them and are observed by polling
// their task ID. Finished tasks stay queryable until evicted.
type Orchestrator struct {
	sessions domain.SessionProvider
	store    domain.Store
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	folderLinks []string
	peerLimit   int
	taskTTL     time.Duration

	mu    sync.Mutex
	tasks map[string]*taskState

	wg sync.WaitGroup
}

// OrchestratorConfig holds dependencies for the Orchestrator
type OrchestratorConfig struct {
	Sessions    domain.SessionProvider
	Store       domain.Store
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	FolderLinks []string
	PeerLimit   int

	// TaskTTL bounds how long a finished task stays pollable. Defaults to
	// finishedTaskTTL.
	TaskTTL time.Duration
}

// NewOrchestrator creates a task orchestrator
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	m := cfg.Metrics
	if m == nil {
		m = metrics.GetDefaultMetrics()
	}
	peerLimit := cfg.PeerLimit
	if peerLimit <= 0 {
		peerLimit = 100
	}
	ttl := cfg.TaskTTL
	if ttl <= 0 {
		ttl = finishedTaskTTL
	}
	return &Orchestrator{
		sessions:    cfg.Sessions,
		store:       cfg.Store,
		logger:      cfg.Logger.With().Str("component", "task_orchestrator").Logger(),
		metrics:     m,
		folderLinks: cfg.FolderLinks,
		peerLimit:   peerLimit,
		taskTTL:     ttl,
		tasks:       make(map[string]*taskState),
	}
}

// taskState is the mutable state of one background task.
type taskState struct {
	id     string
	kind   string
	cancel context.CancelFunc
	ring   *progress.Ring

	mu            sync.Mutex
	status        string
	progress      int
	total         int
	joined        int
	failed        int
	chatsAdded    int
	currentFolder string
	errMsg        string
	startedAt     time.Time
	finishedAt    time.Time
}

func (t *taskState) update(f func(*taskState)) {
	t.mu.Lock()
	f(t)
	t.mu.Unlock()
}

func (t *taskState) snapshot() *domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &domain.TaskStatus{
		TaskID:        t.id,
		Kind:          t.kind,
		Status:        t.status,
		Progress:      t.progress,
		Total:         t.total,
		Joined:        t.joined,
		Failed:        t.failed,
		ChatsAdded:    t.chatsAdded,
		CurrentFolder: t.currentFolder,
		Error:         t.errMsg,
		Logs:          t.ring.Snapshot(),
	}
}

// finishedTaskTTL is how long a finished task remains pollable.
const finishedTaskTTL = time.Hour

// launch registers a new task and runs fn in a detached goroutine.
func (o *Orchestrator) launch(kind string, fn func(ctx context.Context, t *taskState) error) string {
	ctx, cancel := context.WithCancel(context.Background())
	t := &taskState{
		id:        uuid.NewString(),
		kind:      kind,
		cancel:    cancel,
		ring:      progress.NewRing(progress.DefaultLogCap),
		status:    domain.TaskRunning,
		startedAt: time.Now(),
	}

	o.mu.Lock()
	o.evictExpiredLocked()
	o.tasks[t.id] = t
	o.mu.Unlock()

	o.metrics.ActiveTasks.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.metrics.ActiveTasks.Dec()
		defer cancel()

		err := fn(ctx, t)
		t.update(func(t *taskState) {
			t.finishedAt = time.Now()
			if err != nil {
				t.status = domain.TaskFailed
				t.errMsg = err.Error()
			} else {
				t.status = domain.TaskCompleted
			}
		})
		o.logger.Info().
			Str("task_id", t.id).
			Str("kind", kind).
			Err(err).
			Msg("task finished")
	}()

	o.logger.Info().Str("task_id", t.id).Str("kind", kind).Msg("task started")
	return t.id
}

func (o *Orchestrator) evictExpiredLocked() {
	now := time.Now()
	for id, t := range o.tasks {
		t.mu.Lock()
		expired := t.status != domain.TaskRunning && !t.finishedAt.IsZero() && now.Sub(t.finishedAt) > o.taskTTL
		t.mu.Unlock()
		if expired {
			delete(o.tasks, id)
		}
	}
}

// Status returns the polling snapshot for a task. Tasks finished longer
// than the TTL ago are gone, whether or not anything else evicted them.
func (o *Orchestrator) Status(taskID string) (*domain.TaskStatus, error) {
	o.mu.Lock()
	o.evictExpiredLocked()
	t, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.snapshot(), nil
}

// Cancel stops a running task.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	o.evictExpiredLocked()
	t, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	t.cancel()
	return nil
}

// Shutdown cancels everything and waits for task goroutines to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	for _, t := range o.tasks {
		t.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn().Msg("shutdown timeout waiting for tasks")
	}
}

// activeAccounts lists every active account in the pool.
func (o *Orchestrator) activeAccounts(ctx context.Context) ([]domain.Account, error) {
	all, err := o.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := all[:0]
	for _, a := range all {
		if a.IsActive && a.SessionCredential != "" {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		return nil, domain.ErrNoActiveAccounts
	}
	return accounts, nil
}
