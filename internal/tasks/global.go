package tasks

import (
	"context"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/ratelimit"
)

// StartGlobalJoin joins one target chat on every active account in the
// pool. Busy accounts are skipped and counted as failures.
func (o *Orchestrator) StartGlobalJoin(target string) string {
	return o.launch(KindGlobalJoin, func(ctx context.Context, t *taskState) error {
		accounts, err := o.activeAccounts(ctx)
		if err != nil {
			return err
		}
		t.update(func(t *taskState) { t.total = len(accounts) })

		for _, account := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.joinOnAccount(ctx, t, account, target)
			t.update(func(t *taskState) { t.progress++ })
			if err := ratelimit.Sleep(ctx, joinDelay()); err != nil {
				return err
			}
		}
		return nil
	})
}

// StartBulkGlobalJoin joins a list of target chats on every active account,
// or on a single account when accountID is set. Each account is checked out
// once and walks the whole list.
func (o *Orchestrator) StartBulkGlobalJoin(targets []string, accountID int64) string {
	return o.launch(KindBulkGlobalJoin, func(ctx context.Context, t *taskState) error {
		accounts, err := o.activeAccounts(ctx)
		if err != nil {
			return err
		}
		if accountID > 0 {
			only := accounts[:0]
			for _, a := range accounts {
				if a.ID == accountID {
					only = append(only, a)
				}
			}
			if len(only) == 0 {
				return domain.ErrNoActiveAccounts
			}
			accounts = only
		}
		t.update(func(t *taskState) { t.total = len(accounts) * len(targets) })

		for _, account := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.bulkJoinOnAccount(ctx, t, account, targets)
		}
		return nil
	})
}

// joinOnAccount joins one target with one account, with flood handling.
func (o *Orchestrator) joinOnAccount(ctx context.Context, t *taskState, account domain.Account, target string) {
	client, release, err := o.sessions.Checkout(ctx, account.ID)
	if err != nil {
		t.ring.Add("account %d unavailable: %v", account.ID, err)
		t.update(func(t *taskState) { t.failed++ })
		return
	}
	defer release()

	o.joinTarget(ctx, t, client, account.ID, target)
}

// bulkJoinOnAccount joins every target with one checked-out account.
func (o *Orchestrator) bulkJoinOnAccount(ctx context.Context, t *taskState, account domain.Account, targets []string) {
	client, release, err := o.sessions.Checkout(ctx, account.ID)
	if err != nil {
		t.ring.Add("account %d unavailable: %v", account.ID, err)
		t.update(func(t *taskState) {
			t.failed += len(targets)
			t.progress += len(targets)
		})
		return
	}
	defer release()

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		o.joinTarget(ctx, t, client, account.ID, target)
		t.update(func(t *taskState) { t.progress++ })
		if err := ratelimit.Sleep(ctx, joinDelay()); err != nil {
			return
		}
	}
}

func (o *Orchestrator) joinTarget(ctx context.Context, t *taskState, client domain.TelegramClient, accountID int64, target string) {
	err := client.JoinChat(ctx, target)
	if wait, ok := domain.AsFloodWait(err); ok {
		o.metrics.RecordFloodWait()
		if wait > skipFloodAbove {
			t.ring.Add("account %d: %s flood wait %s, skipped", accountID, target, wait)
			t.update(func(t *taskState) { t.failed++ })
			return
		}
		t.ring.Add("account %d: %s flood wait %s", accountID, target, wait)
		if sleepErr := ratelimit.Sleep(ctx, wait); sleepErr != nil {
			return
		}
		err = client.JoinChat(ctx, target)
	}
	if err != nil {
		o.metrics.RecordJoinError("chat")
		t.ring.Add("account %d: %s failed: %v", accountID, target, err)
		t.update(func(t *taskState) { t.failed++ })
		return
	}

	o.metrics.RecordChatJoin()
	t.ring.Add("account %d: joined %s", accountID, target)
	t.update(func(t *taskState) { t.joined++ })
}
