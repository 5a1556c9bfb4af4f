package tasks

import (
	"context"
)

// StartNuclearJoin wipes an account's dialog list and rebuilds it from
// shared folders: the caller-supplied links, or the configured pack when
// none are given. The wipe leaves every channel, deletes every basic chat
// and revokes private histories, continuing past failures.
func (o *Orchestrator) StartNuclearJoin(accountID int64, links []string) string {
	if len(links) == 0 {
		links = o.folderLinks
	}
	return o.launch(KindNuclearWipe, func(ctx context.Context, t *taskState) error {
		t.update(func(t *taskState) { t.total = len(links) })

		client, release, err := o.sessions.Checkout(ctx, accountID)
		if err != nil {
			t.ring.Add("account %d unavailable: %v", accountID, err)
			return err
		}

		report, err := client.WipeDialogs(ctx)
		release()
		if err != nil {
			return err
		}
		o.metrics.RecordDialogsWiped(report.Left + report.Deleted)
		t.ring.Add("account %d: wiped %d channels, %d chats, %d failed",
			accountID, report.Left, report.Deleted, report.Failed)

		// Rebuild from the folder pack on a fresh checkout so the wipe and
		// the joins cannot interleave with another holder.
		return o.joinFoldersForAccount(ctx, t, accountID, links)
	})
}
