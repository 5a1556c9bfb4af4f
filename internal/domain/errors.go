package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned when starting a campaign that already
	// has a live runner.
	ErrAlreadyRunning = errors.New("campaign already running")

	// ErrNotRunning is returned for operations that require a live runner.
	ErrNotRunning = errors.New("campaign is not running")

	// ErrAccountBusy means the account session is checked out by another
	// worker. Callers fail fast instead of queueing.
	ErrAccountBusy = errors.New("account is busy")

	// ErrSessionExpired means the stored session credential no longer
	// authorizes the account.
	ErrSessionExpired = errors.New("session is invalid or expired")

	// ErrNotConnected means the client has no live connection.
	ErrNotConnected = errors.New("not connected to telegram")

	// ErrPermissionDenied covers write-forbidden, banned and admin-required
	// conditions. Sends hitting it are skipped, not failed.
	ErrPermissionDenied = errors.New("no permission for target")

	// ErrSlowMode means the target enforces slow mode; treated as a skip.
	ErrSlowMode = errors.New("target is in slow mode")

	// ErrNotFound is returned for unknown campaigns, tasks and records.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveAccounts means no usable account could be resolved.
	ErrNoActiveAccounts = errors.New("no active accounts available")

	// ErrNoTargets means the campaign resolved an empty target list.
	ErrNoTargets = errors.New("no targets to broadcast to")
)

// FloodWaitError carries the cooldown Telegram demanded.
type FloodWaitError struct {
	Duration time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s", e.Duration)
}

// AsFloodWait extracts a flood-wait duration from an error chain.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Duration, true
	}
	return 0, false
}
