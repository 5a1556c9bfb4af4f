package broadcast

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/ratelimit"
)

// runParallel spawns one worker per account; each worker broadcasts over
// the account's own dialog list with a fixed delay. Cycles repeat while the
// campaign loops and at least one account survived the cycle.
func (r *Runner) runParallel(ctx context.Context, rn *run, accounts []domain.Account, logger zerolog.Logger) error {
	for {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.UpdateAnalytics(persistCtx, rn.campaign.ClientID, 1, 0, 0); err != nil {
			logger.Warn().Err(err).Msg("failed to count broadcast cycle")
		}
		cancel()

		var wg sync.WaitGroup
		survivors := make(chan int64, len(accounts))
		for _, account := range accounts {
			if rn.isRemoved(account.ID) {
				continue
			}
			wg.Add(1)
			go func(account domain.Account) {
				defer wg.Done()
				if r.parallelWorker(ctx, rn, account, logger) {
					survivors <- account.ID
				}
			}(account)
		}
		wg.Wait()
		close(survivors)

		alive := 0
		for range survivors {
			alive++
		}
		r.metrics.RecordCycle()

		if ctx.Err() != nil {
			return nil
		}
		if alive == 0 {
			return domain.ErrNoActiveAccounts
		}
		if !rn.campaign.Loop {
			return nil
		}
		if err := r.cyclePause(ctx, rn); err != nil {
			return nil
		}
		// Total covers the current cycle only; workers add their target
		// counts back as they list dialogs. Rolled over together with the
		// cycle counter so a status poll never sees one without the other.
		rn.mu.Lock()
		rn.cycle++
		rn.total = 0
		rn.mu.Unlock()
	}
}

// parallelWorker runs one account through one cycle over its own dialogs.
// Returns false when the account is unusable for further cycles.
func (r *Runner) parallelWorker(ctx context.Context, rn *run, account domain.Account, logger zerolog.Logger) bool {
	state := func(f func(st *domain.AccountRunState)) {
		rn.mu.Lock()
		if st, ok := rn.accounts[account.ID]; ok {
			f(st)
		}
		rn.mu.Unlock()
	}
	logger = logger.With().Int64("account_id", account.ID).Logger()

	client, release, err := r.sessions.Checkout(ctx, account.ID)
	if err != nil {
		logger.Error().Err(err).Msg("account unusable for cycle")
		state(func(st *domain.AccountRunState) {
			st.Status = domain.RunStatusError
		})
		if errors.Is(err, domain.ErrSessionExpired) {
			r.sessions.Invalidate(account.ID)
		}
		return false
	}
	defer release()

	dialogs, err := client.Dialogs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list dialogs")
		state(func(st *domain.AccountRunState) { st.Status = domain.RunStatusError })
		return !errors.Is(err, domain.ErrSessionExpired)
	}

	targets := sendableTargets(dialogs)
	if len(targets) == 0 {
		state(func(st *domain.AccountRunState) { st.Status = domain.RunStatusDone })
		return true
	}

	delay := time.Duration(rn.campaign.DelaySeconds) * time.Second
	tracker := ratelimit.NewTracker(ratelimit.FixedPolicy(delay))

	rn.mu.Lock()
	rn.total += len(targets)
	rn.mu.Unlock()
	state(func(st *domain.AccountRunState) {
		st.Status = domain.RunStatusRunning
		st.Total = len(targets)
		st.Delay = tracker.Delay().Seconds()
	})

	for i, target := range targets {
		if ctx.Err() != nil {
			return true
		}
		if rn.isRemoved(account.ID) {
			state(func(st *domain.AccountRunState) { st.Status = domain.RunStatusRemoved })
			logger.Info().Msg("worker exiting, account removed")
			return false
		}

		name := target.Name()
		rn.mu.Lock()
		rn.currentGroup = name
		rn.mu.Unlock()
		state(func(st *domain.AccountRunState) { st.CurrentGroup = name })

		ok := r.sendOnce(ctx, rn, client, account, target, name, tracker, state, logger)
		if !ok {
			// Session-fatal; abort this worker only.
			return false
		}

		if i < len(targets)-1 {
			if err := ratelimit.Sleep(ctx, tracker.NextDelay()); err != nil {
				return true
			}
		}
	}

	state(func(st *domain.AccountRunState) {
		st.Status = domain.RunStatusDone
		st.CurrentGroup = ""
	})
	return true
}

// sendOnce performs a single send with flood-wait handling. Returns false
// only on session-fatal errors.
func (r *Runner) sendOnce(
	ctx context.Context,
	rn *run,
	client domain.TelegramClient,
	account domain.Account,
	target domain.ChatRef,
	name string,
	tracker *ratelimit.Tracker,
	state func(func(st *domain.AccountRunState)),
	logger zerolog.Logger,
) bool {
	send := func() error {
		start := time.Now()
		var err error
		if rn.campaign.SendMode == domain.SendModeForward {
			err = client.Forward(ctx, target, domain.ForwardSource{
				ChannelID: rn.campaign.ForwardFromChat,
				Username:  rn.campaign.ForwardFromUsername,
				MessageID: rn.campaign.ForwardMessageID,
			})
		} else {
			topic := 0
			if target.Forum {
				topic = rn.campaign.TargetTopic
			}
			err = client.SendMessage(ctx, target, rn.campaign.MessageContent, topic)
		}
		if err == nil {
			r.metrics.RecordSend(time.Since(start).Seconds())
		}
		return err
	}

	err := send()
	if wait, ok := domain.AsFloodWait(err); ok {
		// One attempt per target per cycle: the wait is logged and served
		// as a cooldown, then the worker moves to the next target. The
		// target is picked up again on the next cycle when looping.
		r.metrics.RecordFloodWait()
		tracker.OnFloodWait()
		r.record(ctx, rn, account.ID, account.PhoneNumber, name, domain.OutcomeFloodWait, err.Error())
		if tracker.ShouldSkipFlood(wait) {
			logger.Warn().Dur("wait", wait).Str("group", name).Msg("flood wait too long, moving on")
			state(func(st *domain.AccountRunState) { st.Delay = tracker.Delay().Seconds() })
			return true
		}

		logger.Warn().Dur("wait", wait).Str("group", name).Msg("flood wait, cooling down")
		state(func(st *domain.AccountRunState) {
			st.Status = domain.RunStatusFloodWait
			st.Delay = wait.Seconds()
		})
		if sleepErr := ratelimit.Sleep(ctx, wait); sleepErr != nil {
			return true
		}
		state(func(st *domain.AccountRunState) {
			st.Status = domain.RunStatusRunning
			st.Delay = tracker.Delay().Seconds()
		})
		return true
	}

	switch {
	case err == nil:
		tracker.OnSuccess()
		r.record(ctx, rn, account.ID, account.PhoneNumber, name, domain.OutcomeSent, "")
		state(func(st *domain.AccountRunState) { st.Sent++; st.Delay = tracker.Delay().Seconds() })
	case errors.Is(err, domain.ErrSessionExpired):
		logger.Error().Str("group", name).Msg("session expired mid-run")
		r.sessions.Invalidate(account.ID)
		state(func(st *domain.AccountRunState) { st.Status = domain.RunStatusError })
		return false
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrSlowMode):
		r.record(ctx, rn, account.ID, account.PhoneNumber, name, domain.OutcomeSkipped, err.Error())
	case errors.Is(err, context.Canceled):
		return true
	default:
		r.metrics.RecordSendError("send")
		tracker.OnFailure()
		r.record(ctx, rn, account.ID, account.PhoneNumber, name, domain.OutcomeFailed, err.Error())
		state(func(st *domain.AccountRunState) { st.Failed++; st.Delay = tracker.Delay().Seconds() })
	}
	return true
}

// seqAccount is one rotation slot of a sequential run.
type seqAccount struct {
	account  domain.Account
	client   domain.TelegramClient
	release  func()
	tracker  *ratelimit.Tracker
	resolved map[string]domain.ChatRef
	dead     bool
}

// runSequential rotates one send at a time across accounts over the
// campaign's configured group list, pacing adaptively.
func (r *Runner) runSequential(ctx context.Context, rn *run, accounts []domain.Account, groups []string, logger zerolog.Logger) error {
	policy := ratelimit.DefaultPolicy()
	if rn.campaign.DelaySeconds > 0 {
		policy.BaseDelay = time.Duration(rn.campaign.DelaySeconds) * time.Second
		if policy.BaseDelay < policy.MinDelay {
			policy.MinDelay = policy.BaseDelay
		}
	}

	slots := make([]*seqAccount, 0, len(accounts))
	for _, account := range accounts {
		client, release, err := r.sessions.Checkout(ctx, account.ID)
		if err != nil {
			logger.Error().Err(err).Int64("account_id", account.ID).Msg("account unusable")
			rn.mu.Lock()
			if st, ok := rn.accounts[account.ID]; ok {
				st.Status = domain.RunStatusError
			}
			rn.mu.Unlock()
			continue
		}
		slots = append(slots, &seqAccount{
			account:  account,
			client:   client,
			release:  release,
			tracker:  ratelimit.NewTracker(policy),
			resolved: make(map[string]domain.ChatRef),
		})
	}
	if len(slots) == 0 {
		return domain.ErrNoActiveAccounts
	}
	defer func() {
		for _, slot := range slots {
			slot.release()
		}
	}()

	rn.mu.Lock()
	rn.total = len(groups)
	for _, slot := range slots {
		if st, ok := rn.accounts[slot.account.ID]; ok {
			st.Status = domain.RunStatusRunning
			st.Total = len(groups)
			st.Delay = slot.tracker.Delay().Seconds()
		}
	}
	rn.mu.Unlock()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rotation := 0

	for {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.UpdateAnalytics(persistCtx, rn.campaign.ClientID, 1, 0, 0); err != nil {
			logger.Warn().Err(err).Msg("failed to count broadcast cycle")
		}
		cancel()

		for _, group := range groups {
			if ctx.Err() != nil {
				return nil
			}

			slot := r.nextSlot(rn, slots, &rotation)
			if slot == nil {
				return domain.ErrNoActiveAccounts
			}

			rn.mu.Lock()
			rn.currentGroup = group
			if st, ok := rn.accounts[slot.account.ID]; ok {
				st.CurrentGroup = group
			}
			rn.mu.Unlock()

			r.sequentialSend(ctx, rn, slot, group, logger)

			if d, rest := slot.tracker.BatchRest(); rest {
				logger.Info().Dur("rest", d).Msg("batch rest")
				if err := ratelimit.Sleep(ctx, d); err != nil {
					return nil
				}
			} else if err := ratelimit.Sleep(ctx, slot.tracker.NextDelay()); err != nil {
				return nil
			}
		}
		r.metrics.RecordCycle()

		if ctx.Err() != nil {
			return nil
		}
		if !rn.campaign.Loop {
			for _, slot := range slots {
				if slot.dead {
					continue
				}
				rn.mu.Lock()
				if st, ok := rn.accounts[slot.account.ID]; ok && st.Status == domain.RunStatusRunning {
					st.Status = domain.RunStatusDone
					st.CurrentGroup = ""
				}
				rn.mu.Unlock()
			}
			return nil
		}
		if err := r.cyclePause(ctx, rn); err != nil {
			return nil
		}
		rn.mu.Lock()
		rn.cycle++
		rn.mu.Unlock()
		// Shuffle the rotation origin so cycles don't always hit the same
		// group with the same account.
		rotation = rng.Intn(len(slots))
	}
}

// nextSlot picks the next usable account in rotation order.
func (r *Runner) nextSlot(rn *run, slots []*seqAccount, rotation *int) *seqAccount {
	for i := 0; i < len(slots); i++ {
		slot := slots[(*rotation+i)%len(slots)]
		if slot.dead {
			continue
		}
		if rn.isRemoved(slot.account.ID) {
			slot.dead = true
			rn.mu.Lock()
			if st, ok := rn.accounts[slot.account.ID]; ok {
				st.Status = domain.RunStatusRemoved
			}
			rn.mu.Unlock()
			continue
		}
		*rotation = (*rotation + i + 1) % len(slots)
		return slot
	}
	return nil
}

// sequentialSend resolves and sends to one group with one account.
func (r *Runner) sequentialSend(ctx context.Context, rn *run, slot *seqAccount, group string, logger zerolog.Logger) {
	account := slot.account
	logger = logger.With().Int64("account_id", account.ID).Str("group", group).Logger()

	target, ok := slot.resolved[group]
	if !ok {
		var err error
		target, err = slot.client.Resolve(ctx, group)
		if err != nil {
			if errors.Is(err, domain.ErrSessionExpired) {
				r.failSlot(rn, slot)
				return
			}
			logger.Warn().Err(err).Msg("failed to resolve target")
			slot.tracker.OnFailure()
			r.record(ctx, rn, account.ID, account.PhoneNumber, group, domain.OutcomeFailed, err.Error())
			rn.mu.Lock()
			if st, ok := rn.accounts[account.ID]; ok {
				st.Failed++
				st.Delay = slot.tracker.Delay().Seconds()
			}
			rn.mu.Unlock()
			return
		}
		slot.resolved[group] = target
	}

	state := func(f func(st *domain.AccountRunState)) {
		rn.mu.Lock()
		if st, ok := rn.accounts[account.ID]; ok {
			f(st)
		}
		rn.mu.Unlock()
	}
	if !r.sendOnce(ctx, rn, slot.client, account, target, group, slot.tracker, state, logger) {
		r.failSlot(rn, slot)
	}
}

func (r *Runner) failSlot(rn *run, slot *seqAccount) {
	slot.dead = true
	rn.mu.Lock()
	if st, ok := rn.accounts[slot.account.ID]; ok {
		st.Status = domain.RunStatusError
	}
	rn.mu.Unlock()
}

// sendableTargets filters dialogs to chats a broadcast can post into:
// megagroups and basic group chats. Broadcast channels and private
// dialogs are excluded.
func sendableTargets(dialogs []domain.ChatRef) []domain.ChatRef {
	targets := make([]domain.ChatRef, 0, len(dialogs))
	for _, ref := range dialogs {
		switch ref.Kind {
		case domain.ChatKindChat:
			targets = append(targets, ref)
		case domain.ChatKindChannel:
			if !ref.Broadcast {
				targets = append(targets, ref)
			}
		}
	}
	return targets
}
