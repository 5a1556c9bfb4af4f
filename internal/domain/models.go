package domain

import "time"

// Client is a paying customer of the service. Accounts are assigned to
// clients; campaigns always belong to a client.
type Client struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	TelegramUsername string     `json:"telegram_username,omitempty"`
	AccessToken      string     `json:"access_token,omitempty"`
	SubscriptionType string     `json:"subscription_type"`
	IsActive         bool       `json:"is_active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Account is a pooled Telegram identity. ClientID is nil while the account
// sits unassigned in the pool. SessionCredential is the opaque serialized
// MTProto session; only the session store reads or writes it.
type Account struct {
	ID                int64     `json:"id"`
	PhoneNumber       string    `json:"phone_number"`
	DisplayName       string    `json:"display_name,omitempty"`
	IsPremium         bool      `json:"is_premium"`
	IsActive          bool      `json:"is_active"`
	ClientID          *int64    `json:"client_id,omitempty"`
	SessionCredential string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// Campaign statuses.
const (
	CampaignIdle       = "idle"
	CampaignRunning    = "running"
	CampaignBatchPause = "batch_pause"
	CampaignStopped    = "stopped"
	CampaignCompleted  = "completed"
	CampaignFailed     = "failed"
)

// Send modes.
const (
	SendModeSend    = "send"
	SendModeForward = "forward"
)

// Campaign is a configured bulk-send job.
type Campaign struct {
	ID             int64  `json:"id"`
	ClientID       int64  `json:"client_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	MessageType    string `json:"message_type"`
	MessageContent string `json:"message_content,omitempty"`
	DelaySeconds   int    `json:"delay_seconds"`
	SendMode       string `json:"send_mode"`
	TargetTopic    int    `json:"target_topic,omitempty"`
	Loop           bool   `json:"loop"`

	// Forward source, used when SendMode == SendModeForward. Either the
	// internal channel ID or a public username, plus the message ID.
	ForwardFromChat     int64  `json:"forward_from_chat,omitempty"`
	ForwardFromUsername string `json:"forward_from_username,omitempty"`
	ForwardMessageID    int    `json:"forward_message_id,omitempty"`

	// AccountIDs restricts the campaign to specific accounts. Empty means
	// all active accounts assigned to the client.
	AccountIDs []int64 `json:"account_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Account run statuses inside a live campaign.
const (
	RunStatusStarting  = "starting"
	RunStatusRunning   = "running"
	RunStatusFloodWait = "flood_wait"
	RunStatusDone      = "done"
	RunStatusRemoved   = "removed"
	RunStatusError     = "error"
)

// AccountRunState is the transient per-account view of a running campaign.
type AccountRunState struct {
	AccountID    int64   `json:"-"`
	Phone        string  `json:"phone"`
	Status       string  `json:"status"`
	Sent         int     `json:"sent"`
	Failed       int     `json:"failed"`
	Total        int     `json:"total"`
	CurrentGroup string  `json:"current_group,omitempty"`
	Delay        float64 `json:"delay"`
}

// Broadcast outcome statuses.
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeFloodWait = "flood_wait"
)

// BroadcastLogEntry is one line of the polling log. Index is monotonic for
// the lifetime of a campaign, across cycles.
type BroadcastLogEntry struct {
	Index   uint64    `json:"index"`
	Group   string    `json:"group"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	Account string    `json:"account,omitempty"`
	Cycle   int       `json:"cycle"`
	Time    time.Time `json:"time"`
}

// CampaignProgress is the aggregate snapshot returned by status polling.
type CampaignProgress struct {
	Status       string                    `json:"status"`
	Mode         string                    `json:"mode"`
	Total        int                       `json:"total"`
	Sent         int                       `json:"sent"`
	Failed       int                       `json:"failed"`
	CurrentGroup string                    `json:"current_group,omitempty"`
	Cycle        int                       `json:"cycle"`
	Error        string                    `json:"error,omitempty"`
	Accounts     map[int64]AccountRunState `json:"accounts"`
	RecentLogs   []BroadcastLogEntry       `json:"recent_logs"`
}

// Background task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskStatus is the polled snapshot of a background task.
type TaskStatus struct {
	TaskID        string   `json:"task_id"`
	Kind          string   `json:"kind"`
	Status        string   `json:"status"`
	Progress      int      `json:"progress"`
	Total         int      `json:"total"`
	Joined        int      `json:"joined"`
	Failed        int      `json:"failed"`
	ChatsAdded    int      `json:"chats_added"`
	CurrentFolder string   `json:"current_folder,omitempty"`
	Error         string   `json:"error,omitempty"`
	Logs          []string `json:"logs"`
}

// ChatKind discriminates resolved chats.
type ChatKind int

const (
	ChatKindUser ChatKind = iota
	ChatKindChat
	ChatKindChannel
)

// ChatRef identifies a chat together with the access hash needed to address
// it. Refs are only valid for the account that resolved them.
type ChatRef struct {
	ID         int64
	AccessHash int64
	Kind       ChatKind
	Title      string
	Username   string
	Forum      bool
	Broadcast  bool
}

// Name returns a human-readable label for logs.
func (c ChatRef) Name() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return ""
}

// ForwardSource identifies the message a forward-mode campaign re-sends.
type ForwardSource struct {
	ChannelID int64
	Username  string
	MessageID int
}

// FolderInvite describes a chat-folder (addlist) invite link.
type FolderInvite struct {
	Slug          string
	AlreadyMember bool
	Chats         []ChatRef
}

// FolderJoinResult reports one folder join.
type FolderJoinResult struct {
	ChatsAdded int
	// Missing are chats the folder join did not cover (over the peer
	// limit); callers sweep them with individual joins.
	Missing []ChatRef
}

// WipeReport summarizes a dialog wipe.
type WipeReport struct {
	Left    int
	Deleted int
	Failed  int
}

// BroadcastEvent is published for every send outcome.
type BroadcastEvent struct {
	CampaignID int64     `json:"campaign_id"`
	ClientID   int64     `json:"client_id"`
	AccountID  int64     `json:"account_id"`
	Group      string    `json:"group"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Cycle      int       `json:"cycle"`
	Timestamp  time.Time `json:"timestamp"`
}

// Analytics is the aggregate counters view.
type Analytics struct {
	TotalBroadcasts int64 `json:"total_broadcasts"`
	TotalSuccess    int64 `json:"total_success"`
	TotalFailed     int64 `json:"total_failed"`
	TotalClients    int64 `json:"total_clients,omitempty"`
	TotalAccounts   int64 `json:"total_accounts,omitempty"`
	TotalCampaigns  int64 `json:"total_campaigns,omitempty"`
}
