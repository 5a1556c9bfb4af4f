package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/eyeconlabs/bump-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    name              TEXT NOT NULL,
    telegram_username TEXT,
    access_token      TEXT NOT NULL UNIQUE,
    subscription_type TEXT NOT NULL DEFAULT 'basic',
    is_active         INTEGER NOT NULL DEFAULT 1,
    expires_at        TEXT,
    notes             TEXT,
    created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number       TEXT NOT NULL UNIQUE,
    display_name       TEXT,
    is_premium         INTEGER NOT NULL DEFAULT 0,
    is_active          INTEGER NOT NULL DEFAULT 1,
    client_id          INTEGER REFERENCES clients(id) ON DELETE SET NULL,
    session_credential TEXT NOT NULL DEFAULT '',
    created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id       INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'idle',
    message_type    TEXT NOT NULL DEFAULT 'text',
    message_content TEXT,
    delay_seconds   INTEGER NOT NULL DEFAULT 60,
    send_mode       TEXT NOT NULL DEFAULT 'send',
    target_topic    INTEGER NOT NULL DEFAULT 0,
    loop            INTEGER NOT NULL DEFAULT 1,
    forward_from_chat     INTEGER NOT NULL DEFAULT 0,
    forward_from_username TEXT,
    forward_message_id    INTEGER NOT NULL DEFAULT 0,
    account_ids     TEXT,
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_groups (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id INTEGER NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    group_link  TEXT NOT NULL,
    UNIQUE(campaign_id, group_link)
);

CREATE TABLE IF NOT EXISTS broadcast_logs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id   INTEGER NOT NULL,
    account_id    INTEGER NOT NULL,
    client_id     INTEGER NOT NULL,
    group_name    TEXT NOT NULL,
    status        TEXT NOT NULL,
    error_message TEXT,
    sent_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_broadcast_logs_campaign ON broadcast_logs(campaign_id, id);

CREATE TABLE IF NOT EXISTS analytics (
    client_id        INTEGER PRIMARY KEY,
    total_broadcasts INTEGER NOT NULL DEFAULT 0,
    total_success    INTEGER NOT NULL DEFAULT 0,
    total_failed     INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore implements domain.Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (creating if needed) the database at path and applies the schema.
func New(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.With().Str("component", "database").Logger()}

	s.logger.Info().Str("path", path).Msg("Database opened")
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReconcileStale marks campaigns left in a live status by a previous process
// as stopped. Called once on startup, before any runner exists.
func (s *SQLiteStore) ReconcileStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE status IN (?, ?)`,
		domain.CampaignStopped, domain.CampaignRunning, domain.CampaignBatchPause,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile campaigns: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn().Int64("count", n).Msg("Marked stale running campaigns as stopped")
	}
	return int(n), nil
}

// --- Clients ---

func newAccessToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SQLiteStore) CreateClient(ctx context.Context, c *domain.Client) error {
	if c.SubscriptionType == "" {
		c.SubscriptionType = "basic"
	}
	c.AccessToken = newAccessToken()
	c.IsActive = true
	c.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (name, telegram_username, access_token, subscription_type, is_active, expires_at, notes, created_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		c.Name, nullStr(c.TelegramUsername), c.AccessToken, c.SubscriptionType,
		nullTime(c.ExpiresAt), nullStr(c.Notes), c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, telegram_username, access_token, subscription_type, is_active, expires_at, notes, created_at
		 FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (s *SQLiteStore) GetClientByToken(ctx context.Context, token string) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, telegram_username, access_token, subscription_type, is_active, expires_at, notes, created_at
		 FROM clients WHERE access_token = ?`, token)
	return scanClient(row)
}

func (s *SQLiteStore) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, telegram_username, access_token, subscription_type, is_active, expires_at, notes, created_at
		 FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients := []domain.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

func (s *SQLiteStore) UpdateClient(ctx context.Context, id int64, upd domain.ClientUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.TelegramUsername != nil {
		sets = append(sets, "telegram_username = ?")
		args = append(args, nullStr(*upd.TelegramUsername))
	}
	if upd.SubscriptionType != nil {
		sets = append(sets, "subscription_type = ?")
		args = append(args, *upd.SubscriptionType)
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*upd.IsActive))
	}
	if upd.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, upd.ExpiresAt.Format(time.RFC3339Nano))
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, nullStr(*upd.Notes))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE clients SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteClient(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) RegenerateClientToken(ctx context.Context, id int64) (string, error) {
	token := newAccessToken()
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET access_token = ? WHERE id = ?`, token, id)
	if err != nil {
		return "", fmt.Errorf("failed to regenerate token: %w", err)
	}
	if err := requireRow(res); err != nil {
		return "", err
	}
	return token, nil
}

// --- Accounts ---

func (s *SQLiteStore) AddAccount(ctx context.Context, a *domain.Account) error {
	a.IsActive = true
	a.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (phone_number, display_name, is_premium, is_active, client_id, session_credential, created_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?)`,
		a.PhoneNumber, nullStr(a.DisplayName), boolInt(a.IsPremium),
		nullID(a.ClientID), a.SessionCredential, a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, phone_number, display_name, is_premium, is_active, client_id, session_credential, created_at
		 FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, phone_number, display_name, is_premium, is_active, client_id, session_credential, created_at
		 FROM accounts ORDER BY id`)
}

func (s *SQLiteStore) ListClientAccounts(ctx context.Context, clientID int64) ([]domain.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT id, phone_number, display_name, is_premium, is_active, client_id, session_credential, created_at
		 FROM accounts WHERE client_id = ? ORDER BY id`, clientID)
}

func (s *SQLiteStore) queryAccounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, id int64, upd domain.AccountUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, nullStr(*upd.DisplayName))
	}
	if upd.IsPremium != nil {
		sets = append(sets, "is_premium = ?")
		args = append(args, boolInt(*upd.IsPremium))
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*upd.IsActive))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) UpdateAccountSession(ctx context.Context, id int64, credential string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET session_credential = ? WHERE id = ?`, credential, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) AssignAccount(ctx context.Context, id int64, clientID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET client_id = ? WHERE id = ?`, nullID(clientID), id)
	if err != nil {
		return fmt.Errorf("failed to assign account: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireRow(res)
}

// --- Campaigns ---

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.Status == "" {
		c.Status = domain.CampaignIdle
	}
	if c.MessageType == "" {
		c.MessageType = "text"
	}
	if c.SendMode == "" {
		c.SendMode = domain.SendModeSend
	}
	if c.DelaySeconds <= 0 {
		c.DelaySeconds = 60
	}
	c.CreatedAt = time.Now().UTC()

	accountIDs, err := json.Marshal(c.AccountIDs)
	if err != nil {
		return fmt.Errorf("failed to encode account ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (client_id, name, status, message_type, message_content, delay_seconds, send_mode,
		                        target_topic, loop, forward_from_chat, forward_from_username, forward_message_id,
		                        account_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.Name, c.Status, c.MessageType, nullStr(c.MessageContent), c.DelaySeconds, c.SendMode,
		c.TargetTopic, boolInt(c.Loop), c.ForwardFromChat, nullStr(c.ForwardFromUsername), c.ForwardMessageID,
		string(accountIDs), c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

const campaignColumns = `id, client_id, name, status, message_type, message_content, delay_seconds, send_mode,
	target_topic, loop, forward_from_chat, forward_from_username, forward_message_id, account_ids, created_at`

func (s *SQLiteStore) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
}

func (s *SQLiteStore) ListClientCampaigns(ctx context.Context, clientID int64) ([]domain.Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE client_id = ? ORDER BY id`, clientID)
}

func (s *SQLiteStore) queryCampaigns(ctx context.Context, query string, args ...any) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteCampaign(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) AddCampaignGroups(ctx context.Context, campaignID int64, groups []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO campaign_groups (campaign_id, group_link) VALUES (?, ?)`,
			campaignID, g)
		if err != nil {
			return 0, fmt.Errorf("failed to add group: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit groups: %w", err)
	}
	return added, nil
}

func (s *SQLiteStore) ListCampaignGroups(ctx context.Context, campaignID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_link FROM campaign_groups WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SQLiteStore) ClearCampaignGroups(ctx context.Context, campaignID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM campaign_groups WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return fmt.Errorf("failed to clear groups: %w", err)
	}
	return nil
}

// --- Broadcast log + analytics ---

func (s *SQLiteStore) AppendBroadcastLog(ctx context.Context, campaignID, accountID, clientID int64, group, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_logs (campaign_id, account_id, client_id, group_name, status, error_message, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		campaignID, accountID, clientID, group, status, nullStr(errMsg),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append broadcast log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBroadcastLogs(ctx context.Context, campaignID int64, limit int) ([]domain.PersistedLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.campaign_id, l.account_id, COALESCE(a.phone_number, ''), l.group_name, l.status,
		        COALESCE(l.error_message, ''), l.sent_at
		 FROM broadcast_logs l
		 LEFT JOIN accounts a ON a.id = l.account_id
		 WHERE l.campaign_id = ?
		 ORDER BY l.id DESC LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcast logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.PersistedLog{}
	for rows.Next() {
		var l domain.PersistedLog
		var sentAt string
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.AccountID, &l.PhoneNumber,
			&l.GroupName, &l.Status, &l.Error, &sentAt); err != nil {
			return nil, err
		}
		l.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateAnalytics(ctx context.Context, clientID int64, broadcasts, success, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics (client_id, total_broadcasts, total_success, total_failed)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
		   total_broadcasts = total_broadcasts + excluded.total_broadcasts,
		   total_success    = total_success + excluded.total_success,
		   total_failed     = total_failed + excluded.total_failed`,
		clientID, broadcasts, success, failed,
	)
	if err != nil {
		return fmt.Errorf("failed to update analytics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GlobalAnalytics(ctx context.Context) (*domain.Analytics, error) {
	a := &domain.Analytics{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_broadcasts), 0), COALESCE(SUM(total_success), 0), COALESCE(SUM(total_failed), 0)
		 FROM analytics`).
		Scan(&a.TotalBroadcasts, &a.TotalSuccess, &a.TotalFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to read analytics: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM clients),
		        (SELECT COUNT(*) FROM accounts),
		        (SELECT COUNT(*) FROM campaigns)`).
		Scan(&a.TotalClients, &a.TotalAccounts, &a.TotalCampaigns)
	if err != nil {
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ClientAnalytics(ctx context.Context, clientID int64) (*domain.Analytics, error) {
	a := &domain.Analytics{}
	err := s.db.QueryRowContext(ctx,
		`SELECT total_broadcasts, total_success, total_failed FROM analytics WHERE client_id = ?`, clientID).
		Scan(&a.TotalBroadcasts, &a.TotalSuccess, &a.TotalFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client analytics: %w", err)
	}
	return a, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*domain.Client, error) {
	var c domain.Client
	var username, notes, expiresAt sql.NullString
	var isActive int
	var createdAt string

	err := row.Scan(&c.ID, &c.Name, &username, &c.AccessToken, &c.SubscriptionType,
		&isActive, &expiresAt, &notes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan client: %w", err)
	}

	c.TelegramUsername = username.String
	c.Notes = notes.String
	c.IsActive = isActive != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil {
			c.ExpiresAt = &t
		}
	}
	return &c, nil
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var displayName sql.NullString
	var clientID sql.NullInt64
	var isPremium, isActive int
	var createdAt string

	err := row.Scan(&a.ID, &a.PhoneNumber, &displayName, &isPremium, &isActive,
		&clientID, &a.SessionCredential, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.DisplayName = displayName.String
	a.IsPremium = isPremium != 0
	a.IsActive = isActive != 0
	if clientID.Valid {
		id := clientID.Int64
		a.ClientID = &id
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var messageContent, forwardUsername, accountIDs sql.NullString
	var loop int
	var createdAt string

	err := row.Scan(&c.ID, &c.ClientID, &c.Name, &c.Status, &c.MessageType, &messageContent,
		&c.DelaySeconds, &c.SendMode, &c.TargetTopic, &loop,
		&c.ForwardFromChat, &forwardUsername, &c.ForwardMessageID, &accountIDs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	c.MessageContent = messageContent.String
	c.ForwardFromUsername = forwardUsername.String
	c.Loop = loop != 0
	if accountIDs.Valid && accountIDs.String != "" {
		_ = json.Unmarshal([]byte(accountIDs.String), &c.AccountIDs)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
