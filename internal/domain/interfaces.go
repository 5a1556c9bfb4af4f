package domain

import (
	"context"
	"time"
)

// TelegramClient is the per-account MTProto surface the engine relies on.
// Implementations classify Telegram RPC failures into the domain error
// taxonomy (FloodWaitError, ErrPermissionDenied, ErrSessionExpired, ...).
type TelegramClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	AccountID() int64
	Phone() string

	// Dialogs lists the groups and channels the account has joined.
	Dialogs(ctx context.Context) ([]ChatRef, error)
	// Resolve turns a username, t.me link or invite link into a ChatRef.
	Resolve(ctx context.Context, target string) (ChatRef, error)
	SendMessage(ctx context.Context, chat ChatRef, text string, topicID int) error
	Forward(ctx context.Context, chat ChatRef, src ForwardSource) error

	// JoinChat joins by username, t.me link or private invite link.
	JoinChat(ctx context.Context, target string) error
	JoinChatRef(ctx context.Context, chat ChatRef) error
	CheckFolder(ctx context.Context, slug string) (*FolderInvite, error)
	JoinFolder(ctx context.Context, slug string, peerLimit int) (*FolderJoinResult, error)
	// DeleteSharedFolders removes chatlist dialog filters to free folder
	// slots; returns how many were deleted.
	DeleteSharedFolders(ctx context.Context) (int, error)
	// WipeDialogs leaves every channel, deletes every basic chat and
	// revokes every private history. Continues past individual failures.
	WipeDialogs(ctx context.Context) (*WipeReport, error)
}

// SessionProvider hands out the single live client per account. Checkout is
// exclusive: a second caller gets ErrAccountBusy until release is called.
type SessionProvider interface {
	Checkout(ctx context.Context, accountID int64) (TelegramClient, func(), error)
	// Invalidate drops the cached client so the next checkout reconnects.
	Invalidate(accountID int64)
}

// EventProducer publishes broadcast outcomes to the analytics pipeline.
type EventProducer interface {
	PublishBroadcast(ctx context.Context, event BroadcastEvent) error
	IsHealthy() bool
	Close() error
}

// Store is the persistent record store.
type Store interface {
	// Clients
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id int64) (*Client, error)
	GetClientByToken(ctx context.Context, token string) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	UpdateClient(ctx context.Context, id int64, upd ClientUpdate) error
	DeleteClient(ctx context.Context, id int64) error
	RegenerateClientToken(ctx context.Context, id int64) (string, error)

	// Accounts
	AddAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListClientAccounts(ctx context.Context, clientID int64) ([]Account, error)
	UpdateAccount(ctx context.Context, id int64, upd AccountUpdate) error
	UpdateAccountSession(ctx context.Context, id int64, credential string) error
	AssignAccount(ctx context.Context, id int64, clientID *int64) error
	DeleteAccount(ctx context.Context, id int64) error

	// Campaigns
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id int64) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	ListClientCampaigns(ctx context.Context, clientID int64) ([]Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id int64, status string) error
	DeleteCampaign(ctx context.Context, id int64) error
	AddCampaignGroups(ctx context.Context, campaignID int64, groups []string) (int, error)
	ListCampaignGroups(ctx context.Context, campaignID int64) ([]string, error)
	ClearCampaignGroups(ctx context.Context, campaignID int64) error

	// Broadcast log + analytics
	AppendBroadcastLog(ctx context.Context, campaignID, accountID, clientID int64, group, status, errMsg string) error
	ListBroadcastLogs(ctx context.Context, campaignID int64, limit int) ([]PersistedLog, error)
	UpdateAnalytics(ctx context.Context, clientID int64, broadcasts, success, failed int) error
	GlobalAnalytics(ctx context.Context) (*Analytics, error)
	ClientAnalytics(ctx context.Context, clientID int64) (*Analytics, error)
}

// ClientUpdate carries the mutable client fields; nil means unchanged.
type ClientUpdate struct {
	Name             *string
	TelegramUsername *string
	SubscriptionType *string
	IsActive         *bool
	ExpiresAt        *time.Time
	Notes            *string
}

// AccountUpdate carries the mutable account fields; nil means unchanged.
type AccountUpdate struct {
	DisplayName *string
	IsPremium   *bool
	IsActive    *bool
}

// PersistedLog is a broadcast log row read back from storage.
type PersistedLog struct {
	ID          int64     `json:"id"`
	CampaignID  int64     `json:"campaign_id"`
	AccountID   int64     `json:"account_id"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	GroupName   string    `json:"group_name"`
	Status      string    `json:"status"`
	Error       string    `json:"error_message,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
