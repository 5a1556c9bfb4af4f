package telegram

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

// MTProtoClient implements domain.TelegramClient using gotd/td library
type MTProtoClient struct {
	client *telegram.Client

	apiID   int
	apiHash string

	sessionStorage *DBSessionStorage
	accountID      int64
	phoneNumber    string

	// Connection state
	connected     bool
	disconnecting bool
	mu            sync.RWMutex
	cancelFunc    context.CancelFunc
	runDone       chan struct{} // Signals when client.Run() completes

	logger zerolog.Logger

	// API client for making requests
	api *tg.Client

	// Rate limiter for API calls
	rateLimiter *rate.Limiter
}

// MTProtoClientConfig holds configuration for MTProtoClient
type MTProtoClientConfig struct {
	APIID       int
	APIHash     string
	AccountID   int64
	PhoneNumber string
	Store       domain.Store
	Logger      zerolog.Logger
}

// maskPhoneNumber masks phone number for logging (keeps first 2 and last 2 digits)
func maskPhoneNumber(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}

// NewMTProtoClient creates a new MTProto client instance
func NewMTProtoClient(cfg MTProtoClientConfig) (*MTProtoClient, error) {
	if cfg.APIID == 0 {
		return nil, fmt.Errorf("APIID is required")
	}
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("APIHash is required")
	}
	if cfg.AccountID == 0 {
		return nil, fmt.Errorf("AccountID is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}

	maskedPhone := maskPhoneNumber(cfg.PhoneNumber)

	client := &MTProtoClient{
		apiID:          cfg.APIID,
		apiHash:        cfg.APIHash,
		accountID:      cfg.AccountID,
		phoneNumber:    cfg.PhoneNumber,
		sessionStorage: NewDBSessionStorage(cfg.Store, cfg.AccountID),
		logger:         cfg.Logger.With().Str("component", "mtproto_client").Str("phone", maskedPhone).Logger(),
		rateLimiter:    rate.NewLimiter(rate.Every(time.Second), 10), // 10 requests per second
	}

	return client, nil
}

// Connect connects to Telegram using the stored session credential.
// Accounts are registered with an already-authorized session; if the session
// no longer authorizes, ErrSessionExpired is returned and the account needs
// re-registration.
func (c *MTProtoClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already connected")
		return nil
	}
	if c.disconnecting {
		c.mu.Unlock()
		return fmt.Errorf("disconnect in progress, cannot connect")
	}
	// Keep the lock to prevent concurrent connection attempts
	defer c.mu.Unlock()

	c.logger.Info().Msg("connecting to Telegram")

	c.client = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.sessionStorage,
	})

	// Client lifecycle outlives the connect call
	clientCtx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	readyChan := make(chan struct{})
	errChan := make(chan error, 1)
	c.runDone = make(chan struct{})

	go func() {
		defer close(c.runDone)
		err := c.client.Run(clientCtx, func(ctx context.Context) error {
			c.api = c.client.API()

			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to check auth status: %w", err)
			}
			if !status.Authorized {
				c.logger.Warn().Msg("stored session is not authorized")
				return domain.ErrSessionExpired
			}

			c.connected = true
			c.logger.Info().Msg("session restored, connected to Telegram")
			close(readyChan)

			// Keep connection alive
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errChan <- err:
		default:
		}
	}()

	select {
	case <-readyChan:
		return nil
	case err := <-errChan:
		cancel()
		if err != nil {
			return c.classify(err)
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Disconnect disconnects from Telegram with graceful shutdown.
// Multiple calls are safe and return nil if already disconnected.
func (c *MTProtoClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.disconnecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("disconnect already in progress")
		return nil
	}
	if !c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already disconnected")
		return nil
	}

	c.logger.Info().Msg("disconnecting from Telegram")

	c.disconnecting = true
	cancelFunc := c.cancelFunc
	runDone := c.runDone
	c.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc()
		if runDone != nil {
			select {
			case <-runDone:
				c.logger.Debug().Msg("client stopped gracefully")
			case <-ctx.Done():
				c.logger.Warn().Msg("disconnect timeout reached while waiting for client shutdown")
			}
		}
	}

	c.mu.Lock()
	c.client = nil
	c.api = nil
	c.connected = false
	c.cancelFunc = nil
	c.runDone = nil
	c.disconnecting = false
	c.mu.Unlock()

	c.logger.Info().Msg("successfully disconnected from Telegram")
	return nil
}

// IsConnected checks if client is connected to Telegram
func (c *MTProtoClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// AccountID returns the backing account record ID
func (c *MTProtoClient) AccountID() int64 {
	return c.accountID
}

// Phone returns the account phone number
func (c *MTProtoClient) Phone() string {
	return c.phoneNumber
}

func (c *MTProtoClient) ready() (*tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.api == nil {
		return nil, domain.ErrNotConnected
	}
	return c.api, nil
}

// classify maps Telegram RPC failures onto the domain error taxonomy.
func (c *MTProtoClient) classify(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.FloodWaitError{Duration: wait}
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "SESSION_EXPIRED", "USER_DEACTIVATED", "USER_DEACTIVATED_BAN") {
		return domain.ErrSessionExpired
	}
	if tgerr.Is(err, "CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "CHAT_RESTRICTED",
		"USER_BANNED_IN_CHANNEL", "CHAT_SEND_PLAIN_FORBIDDEN", "TOPIC_CLOSED") {
		return domain.ErrPermissionDenied
	}
	if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "PEER_ID_INVALID", "CHANNEL_PRIVATE", "INVITE_HASH_EXPIRED") {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	if strings.Contains(err.Error(), "SLOWMODE_WAIT") {
		return domain.ErrSlowMode
	}
	return err
}

// Dialogs lists the groups and channels in the account's dialog list
func (c *MTProtoClient) Dialogs(ctx context.Context) ([]domain.ChatRef, error) {
	api, err := c.ready()
	if err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	var (
		refs       []domain.ChatRef
		seen       = map[int64]bool{}
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for page := 0; page < 20; page++ {
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			return nil, c.classify(err)
		}

		var (
			dialogs  []tg.DialogClass
			chats    []tg.ChatClass
			messages []tg.MessageClass
			last     bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
			last = true
		case *tg.MessagesDialogsSlice:
			dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
			last = len(dialogs) < 100
		default:
			last = true
		}

		for _, chat := range chats {
			ref, ok := chatRef(chat)
			if !ok || seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			refs = append(refs, ref)
		}
		if last || len(dialogs) == 0 {
			break
		}

		// Advance the offset from the last dialog's top message
		lastDialog, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			break
		}
		offsetID = lastDialog.TopMessage
		offsetPeer = inputPeerFor(lastDialog.Peer, chats)
		offsetDate = 0
		for _, m := range messages {
			if msg, ok := m.(*tg.Message); ok && msg.ID == lastDialog.TopMessage {
				offsetDate = msg.Date
				break
			}
		}
	}

	c.logger.Debug().Int("count", len(refs)).Msg("listed dialogs")
	return refs, nil
}

// Resolve turns a username or t.me link into a ChatRef
func (c *MTProtoClient) Resolve(ctx context.Context, target string) (domain.ChatRef, error) {
	api, err := c.ready()
	if err != nil {
		return domain.ChatRef{}, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return domain.ChatRef{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	if hash, ok := inviteHash(target); ok {
		res, err := api.MessagesCheckChatInvite(ctx, hash)
		if err != nil {
			return domain.ChatRef{}, c.classify(err)
		}
		if already, ok := res.(*tg.ChatInviteAlready); ok {
			if ref, ok := chatRef(already.Chat); ok {
				return ref, nil
			}
		}
		return domain.ChatRef{}, fmt.Errorf("%w: not a member of %s", domain.ErrNotFound, target)
	}

	username := usernameOf(target)
	if username == "" {
		return domain.ChatRef{}, fmt.Errorf("%w: cannot resolve %q", domain.ErrNotFound, target)
	}

	resolved, err := api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return domain.ChatRef{}, c.classify(err)
	}
	for _, chat := range resolved.Chats {
		if ref, ok := chatRef(chat); ok {
			return ref, nil
		}
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			return domain.ChatRef{
				ID:         user.ID,
				AccessHash: user.AccessHash,
				Kind:       domain.ChatKindUser,
				Username:   user.Username,
				Title:      strings.TrimSpace(user.FirstName + " " + user.LastName),
			}, nil
		}
	}
	return domain.ChatRef{}, fmt.Errorf("%w: %q resolved to nothing usable", domain.ErrNotFound, target)
}

// SendMessage sends a text message; topicID > 0 targets a forum topic
func (c *MTProtoClient) SendMessage(ctx context.Context, chat domain.ChatRef, text string, topicID int) error {
	api, err := c.ready()
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	req := &tg.MessagesSendMessageRequest{
		Peer:     inputPeer(chat),
		Message:  text,
		RandomID: rand.Int63(),
	}
	if topicID > 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: topicID})
	}

	if _, err := api.MessagesSendMessage(ctx, req); err != nil {
		return c.classify(err)
	}
	return nil
}

// Forward re-sends a message from the source channel to chat
func (c *MTProtoClient) Forward(ctx context.Context, chat domain.ChatRef, src domain.ForwardSource) error {
	api, err := c.ready()
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	var fromPeer tg.InputPeerClass
	if src.Username != "" {
		ref, err := c.Resolve(ctx, src.Username)
		if err != nil {
			return err
		}
		fromPeer = inputPeer(ref)
	} else {
		ref, err := c.findDialog(ctx, src.ChannelID)
		if err != nil {
			return err
		}
		fromPeer = inputPeer(ref)
	}

	_, err = api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: fromPeer,
		ID:       []int{src.MessageID},
		RandomID: []int64{rand.Int63()},
		ToPeer:   inputPeer(chat),
	})
	return c.classify(err)
}

// findDialog locates a joined chat by internal ID.
func (c *MTProtoClient) findDialog(ctx context.Context, id int64) (domain.ChatRef, error) {
	refs, err := c.Dialogs(ctx)
	if err != nil {
		return domain.ChatRef{}, err
	}
	for _, ref := range refs {
		if ref.ID == id {
			return ref, nil
		}
	}
	return domain.ChatRef{}, fmt.Errorf("%w: chat %d not in dialogs", domain.ErrNotFound, id)
}

// JoinChat joins by username, t.me link or private invite link
func (c *MTProtoClient) JoinChat(ctx context.Context, target string) error {
	api, err := c.ready()
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	if hash, ok := inviteHash(target); ok {
		_, err := api.MessagesImportChatInvite(ctx, hash)
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			return nil
		}
		return c.classify(err)
	}

	ref, err := c.Resolve(ctx, target)
	if err != nil {
		return err
	}
	return c.JoinChatRef(ctx, ref)
}

// JoinChatRef joins an already-resolved channel
func (c *MTProtoClient) JoinChatRef(ctx context.Context, chat domain.ChatRef) error {
	api, err := c.ready()
	if err != nil {
		return err
	}
	if chat.Kind != domain.ChatKindChannel {
		return fmt.Errorf("can only join channels, got kind %d", chat.Kind)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	_, err = api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  chat.ID,
		AccessHash: chat.AccessHash,
	})
	if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
		return nil
	}
	return c.classify(err)
}

// CheckFolder previews a chat-folder invite without joining
func (c *MTProtoClient) CheckFolder(ctx context.Context, slug string) (*domain.FolderInvite, error) {
	api, err := c.ready()
	if err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	res, err := api.ChatlistsCheckChatlistInvite(ctx, slug)
	if err != nil {
		return nil, c.classify(err)
	}

	invite := &domain.FolderInvite{Slug: slug}
	switch inv := res.(type) {
	case *tg.ChatlistsChatlistInvite:
		for _, chat := range inv.Chats {
			if ref, ok := chatRef(chat); ok {
				invite.Chats = append(invite.Chats, ref)
			}
		}
	case *tg.ChatlistsChatlistInviteAlready:
		invite.AlreadyMember = true
		for _, chat := range inv.Chats {
			if ref, ok := chatRef(chat); ok {
				invite.Chats = append(invite.Chats, ref)
			}
		}
	default:
		return nil, fmt.Errorf("unexpected chatlist invite type %T", res)
	}
	return invite, nil
}

// JoinFolder joins a chat-folder invite with at most peerLimit peers.
// Chats beyond the limit are reported back as Missing so the caller can
// join them individually.
func (c *MTProtoClient) JoinFolder(ctx context.Context, slug string, peerLimit int) (*domain.FolderJoinResult, error) {
	api, err := c.ready()
	if err != nil {
		return nil, err
	}

	invite, err := c.CheckFolder(ctx, slug)
	if err != nil {
		return nil, err
	}
	if invite.AlreadyMember && len(invite.Chats) == 0 {
		return &domain.FolderJoinResult{}, nil
	}

	join := invite.Chats
	var missing []domain.ChatRef
	if peerLimit > 0 && len(join) > peerLimit {
		missing = join[peerLimit:]
		join = join[:peerLimit]
	}

	peers := make([]tg.InputPeerClass, 0, len(join))
	for _, ref := range join {
		peers = append(peers, inputPeer(ref))
	}
	if len(peers) == 0 {
		return &domain.FolderJoinResult{Missing: missing}, nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	_, err = api.ChatlistsJoinChatlistInvite(ctx, &tg.ChatlistsJoinChatlistInviteRequest{
		Slug:  slug,
		Peers: peers,
	})
	if err != nil {
		return nil, c.classify(err)
	}

	c.logger.Info().Str("slug", slug).Int("joined", len(peers)).Int("missing", len(missing)).Msg("joined folder")
	return &domain.FolderJoinResult{ChatsAdded: len(peers), Missing: missing}, nil
}

// DeleteSharedFolders removes every chatlist dialog filter to free folder slots
func (c *MTProtoClient) DeleteSharedFolders(ctx context.Context) (int, error) {
	api, err := c.ready()
	if err != nil {
		return 0, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	filters, err := api.MessagesGetDialogFilters(ctx)
	if err != nil {
		return 0, c.classify(err)
	}

	deleted := 0
	for _, f := range filters.Filters {
		chatlist, ok := f.(*tg.DialogFilterChatlist)
		if !ok {
			continue
		}
		// Unset Filter deletes the dialog filter
		if _, err := api.MessagesUpdateDialogFilter(ctx, &tg.MessagesUpdateDialogFilterRequest{
			ID: chatlist.ID,
		}); err != nil {
			c.logger.Warn().Err(err).Int("filter_id", chatlist.ID).Msg("failed to delete dialog filter")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		c.logger.Info().Int("deleted", deleted).Msg("deleted shared folders")
	}
	return deleted, nil
}

// WipeDialogs leaves every channel, deletes every basic chat and revokes
// every private history. Runs two passes and continues past failures.
func (c *MTProtoClient) WipeDialogs(ctx context.Context) (*domain.WipeReport, error) {
	api, err := c.ready()
	if err != nil {
		return nil, err
	}

	report := &domain.WipeReport{}
	for pass := 0; pass < 2; pass++ {
		refs, err := c.Dialogs(ctx)
		if err != nil {
			if pass == 0 {
				return nil, err
			}
			break
		}
		if len(refs) == 0 {
			break
		}

		for _, ref := range refs {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return report, fmt.Errorf("rate limit wait cancelled: %w", err)
			}

			switch ref.Kind {
			case domain.ChatKindChannel:
				_, err = api.ChannelsLeaveChannel(ctx, &tg.InputChannel{ChannelID: ref.ID, AccessHash: ref.AccessHash})
				if err == nil {
					report.Left++
					continue
				}
			case domain.ChatKindChat:
				_, err = api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
					ChatID: ref.ID,
					UserID: &tg.InputUserSelf{},
				})
				if err == nil {
					req := &tg.MessagesDeleteHistoryRequest{Peer: inputPeer(ref)}
					req.Revoke = true
					_, _ = api.MessagesDeleteHistory(ctx, req)
					report.Deleted++
					continue
				}
			default:
				req := &tg.MessagesDeleteHistoryRequest{Peer: inputPeer(ref)}
				req.Revoke = true
				_, err = api.MessagesDeleteHistory(ctx, req)
				if err == nil {
					report.Deleted++
					continue
				}
			}

			if pass == 1 {
				report.Failed++
			}
			c.logger.Warn().Err(err).Int64("chat_id", ref.ID).Str("chat", ref.Name()).Msg("failed to remove dialog")
		}
	}

	c.logger.Info().
		Int("left", report.Left).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Msg("dialog wipe finished")
	return report, nil
}

// --- peer helpers ---

// chatRef converts a raw chat to a ChatRef, skipping forbidden and deactivated chats.
func chatRef(chat tg.ChatClass) (domain.ChatRef, bool) {
	switch ch := chat.(type) {
	case *tg.Channel:
		return domain.ChatRef{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Kind:       domain.ChatKindChannel,
			Title:      ch.Title,
			Username:   ch.Username,
			Forum:      ch.Forum,
			Broadcast:  ch.Broadcast,
		}, true
	case *tg.Chat:
		if ch.Deactivated {
			return domain.ChatRef{}, false
		}
		return domain.ChatRef{
			ID:    ch.ID,
			Kind:  domain.ChatKindChat,
			Title: ch.Title,
		}, true
	default:
		return domain.ChatRef{}, false
	}
}

func inputPeer(ref domain.ChatRef) tg.InputPeerClass {
	switch ref.Kind {
	case domain.ChatKindChannel:
		return &tg.InputPeerChannel{ChannelID: ref.ID, AccessHash: ref.AccessHash}
	case domain.ChatKindChat:
		return &tg.InputPeerChat{ChatID: ref.ID}
	default:
		return &tg.InputPeerUser{UserID: ref.ID, AccessHash: ref.AccessHash}
	}
}

func inputPeerFor(peer tg.PeerClass, chats []tg.ChatClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range chats {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	}
	return &tg.InputPeerEmpty{}
}

// inviteHash extracts the hash from a private invite link
func inviteHash(target string) (string, bool) {
	target = strings.TrimSpace(target)
	for _, prefix := range []string{
		"https://t.me/joinchat/", "http://t.me/joinchat/", "t.me/joinchat/",
		"https://t.me/+", "http://t.me/+", "t.me/+",
	} {
		if strings.HasPrefix(target, prefix) {
			return strings.TrimPrefix(target, prefix), true
		}
	}
	if strings.HasPrefix(target, "+") {
		return strings.TrimPrefix(target, "+"), true
	}
	return "", false
}

// usernameOf normalizes @username and t.me link forms to a bare username
func usernameOf(target string) string {
	target = strings.TrimSpace(target)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(target, prefix) {
			target = strings.TrimPrefix(target, prefix)
			break
		}
	}
	target = strings.TrimPrefix(target, "@")
	if i := strings.IndexByte(target, '/'); i >= 0 {
		target = target[:i]
	}
	return target
}

// Ensure MTProtoClient implements domain.TelegramClient interface
var _ domain.TelegramClient = (*MTProtoClient)(nil)
