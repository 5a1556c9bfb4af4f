package tasks

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/ratelimit"
)

const (
	// joinDelayMin/Max pace individual joins inside a task.
	joinDelayMin = 2 * time.Second
	joinDelayMax = 5 * time.Second

	// skipFloodAbove bounds how long a task waits out a FLOOD_WAIT before
	// giving up on the current item.
	skipFloodAbove = 5 * time.Minute
)

// StartFolderJoin joins the configured shared folders on one account.
// Returns the task ID for polling.
func (o *Orchestrator) StartFolderJoin(accountID int64) string {
	return o.launch(KindFolderJoin, func(ctx context.Context, t *taskState) error {
		t.update(func(t *taskState) { t.total = len(o.folderLinks) })
		return o.joinFoldersForAccount(ctx, t, accountID, o.folderLinks)
	})
}

// StartFolderJoinAll joins the configured shared folders on every active
// account. Used by the nightly sweep.
func (o *Orchestrator) StartFolderJoinAll() string {
	return o.launch(KindFolderJoin, func(ctx context.Context, t *taskState) error {
		accounts, err := o.activeAccounts(ctx)
		if err != nil {
			return err
		}
		t.update(func(t *taskState) { t.total = len(accounts) * len(o.folderLinks) })

		for _, account := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := o.joinFoldersForAccount(ctx, t, account.ID, o.folderLinks); err != nil {
				// One bad account must not stop the sweep.
				t.ring.Add("account %d: %v", account.ID, err)
				t.update(func(t *taskState) { t.failed++ })
			}
		}
		return nil
	})
}

// joinFoldersForAccount runs the folder join sequence on one account:
// free folder slots, join each invite link, delete the created filter, then
// sweep any chats the folder join could not cover.
func (o *Orchestrator) joinFoldersForAccount(ctx context.Context, t *taskState, accountID int64, links []string) error {
	logger := o.logger.With().Int64("account_id", accountID).Logger()

	client, release, err := o.sessions.Checkout(ctx, accountID)
	if err != nil {
		t.ring.Add("account %d unavailable: %v", accountID, err)
		return err
	}
	defer release()

	// Free folder slots before joining anything.
	if deleted, err := client.DeleteSharedFolders(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to pre-clean folders")
		t.ring.Add("account %d: pre-clean failed: %v", accountID, err)
	} else if deleted > 0 {
		t.ring.Add("account %d: freed %d folder slots", accountID, deleted)
	}

	for _, link := range links {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slug := folderSlug(link)
		t.update(func(t *taskState) {
			t.currentFolder = slug
			t.progress++
		})

		if err := o.joinOneFolder(ctx, t, client, slug, logger); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// Keep going; the remaining folders may still work.
			logger.Warn().Err(err).Str("slug", slug).Msg("folder join failed")
			t.ring.Add("folder %s failed: %v", slug, err)
			t.update(func(t *taskState) { t.failed++ })
			continue
		}
		t.update(func(t *taskState) { t.joined++ })
	}

	t.update(func(t *taskState) { t.currentFolder = "" })
	return nil
}

func (o *Orchestrator) joinOneFolder(ctx context.Context, t *taskState, client domain.TelegramClient, slug string, logger zerolog.Logger) error {
	invite, err := o.withFloodRetry(ctx, t, slug, func() (*domain.FolderInvite, error) {
		return client.CheckFolder(ctx, slug)
	})
	if err != nil {
		return err
	}
	if invite.AlreadyMember && len(invite.Chats) == 0 {
		t.ring.Add("folder %s already joined", slug)
		return nil
	}

	result, err := client.JoinFolder(ctx, slug, o.peerLimit)
	if wait, ok := domain.AsFloodWait(err); ok {
		o.metrics.RecordFloodWait()
		if wait > skipFloodAbove {
			return err
		}
		t.ring.Add("folder %s: flood wait %s", slug, wait)
		if err := ratelimit.Sleep(ctx, wait); err != nil {
			return err
		}
		result, err = client.JoinFolder(ctx, slug, o.peerLimit)
	}
	if err != nil {
		o.metrics.RecordJoinError("folder")
		return err
	}

	o.metrics.RecordFolderJoin()
	t.update(func(t *taskState) { t.chatsAdded += result.ChatsAdded })
	t.ring.Add("folder %s: joined %d chats", slug, result.ChatsAdded)

	// The filter itself only burns a folder slot; delete it and keep the
	// joined chats.
	if _, err := client.DeleteSharedFolders(ctx); err != nil {
		logger.Warn().Err(err).Str("slug", slug).Msg("failed to delete folder filter")
	}

	// Chats over the peer limit need individual joins.
	for _, chat := range result.Missing {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ratelimit.Sleep(ctx, joinDelay()); err != nil {
			return err
		}
		if err := client.JoinChatRef(ctx, chat); err != nil {
			if wait, ok := domain.AsFloodWait(err); ok {
				o.metrics.RecordFloodWait()
				if wait > skipFloodAbove {
					t.ring.Add("chat %s: flood wait %s, skipped", chat.Name(), wait)
					continue
				}
				if err := ratelimit.Sleep(ctx, wait); err != nil {
					return err
				}
				err = client.JoinChatRef(ctx, chat)
			}
			if err != nil {
				o.metrics.RecordJoinError("chat")
				t.ring.Add("chat %s: %v", chat.Name(), err)
				continue
			}
		}
		o.metrics.RecordChatJoin()
		t.update(func(t *taskState) { t.chatsAdded++ })
	}
	return nil
}

// withFloodRetry runs check once, sleeping out a short FLOOD_WAIT before the
// real call.
func (o *Orchestrator) withFloodRetry(ctx context.Context, t *taskState, slug string, call func() (*domain.FolderInvite, error)) (*domain.FolderInvite, error) {
	invite, err := call()
	if wait, ok := domain.AsFloodWait(err); ok {
		o.metrics.RecordFloodWait()
		if wait > skipFloodAbove {
			return nil, err
		}
		t.ring.Add("folder %s: flood wait %s", slug, wait)
		if err := ratelimit.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		invite, err = call()
	}
	return invite, err
}

func joinDelay() time.Duration {
	return joinDelayMin + time.Duration(rand.Int63n(int64(joinDelayMax-joinDelayMin)))
}

// folderSlug extracts the slug from an addlist invite link.
func folderSlug(link string) string {
	link = strings.TrimSpace(link)
	for _, prefix := range []string{"https://t.me/addlist/", "http://t.me/addlist/", "t.me/addlist/"} {
		if strings.HasPrefix(link, prefix) {
			return strings.TrimPrefix(link, prefix)
		}
	}
	return link
}
