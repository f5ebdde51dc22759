// Package registry implements C3: the read-mostly subscription registry —
// tracked wallets and per-user notification subscriptions — backed by a
// single embedded SQLite file with write-ahead logging.
package registry

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// Registry is the SQLite-backed implementation of the subscription store.
type Registry struct {
	db     *sql.DB
	logger *logrus.Entry
}

// Open opens (creating if needed) the registry file at path in WAL mode
// and ensures the schema exists.
func Open(path string, logger *logrus.Entry) (*Registry, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite write-serialization; WAL still allows concurrent readers

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping registry: %w", err)
	}

	r := &Registry{db: db, logger: logger}
	if err := r.createTables(); err != nil {
		return nil, fmt.Errorf("create registry tables: %w", err)
	}
	return r, nil
}

func (r *Registry) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_wallets (
			address TEXT PRIMARY KEY,
			added_by TEXT NOT NULL,
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			user_id TEXT PRIMARY KEY,
			push_key TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS push_sequential_sells_subscriptions (
			user_id TEXT PRIMARY KEY,
			push_key TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_subscribers (
			user_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// IsWalletTracked reports whether addr is a member of the tracked-wallet
// set, case-insensitively. Per policy, an empty set is treated as
// open-tracking: every address is considered tracked, and a warning is
// logged so the fallback doesn't pass unnoticed.
func (r *Registry) IsWalletTracked(addr string) (bool, error) {
	count, err := r.WalletCount()
	if err != nil {
		return false, err
	}
	if count == 0 {
		r.logger.WithField("address", addr).Warn("tracked-wallet set is empty, falling back to open tracking")
		return true, nil
	}

	var exists bool
	err = r.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM tracked_wallets WHERE LOWER(address) = LOWER(?))`, addr,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is wallet tracked: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return exists, nil
}

// WalletCount returns the number of tracked wallets.
func (r *Registry) WalletCount() (int64, error) {
	var count int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM tracked_wallets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("wallet count: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return count, nil
}

// ListWallets returns a page of tracked wallets ordered by insertion time.
func (r *Registry) ListWallets(skip, limit int) ([]domain.TrackedWallet, error) {
	rows, err := r.db.Query(
		`SELECT address, added_by, added_at FROM tracked_wallets ORDER BY added_at ASC LIMIT ? OFFSET ?`,
		limit, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	defer rows.Close()

	var wallets []domain.TrackedWallet
	for rows.Next() {
		var w domain.TrackedWallet
		var addedAt int64
		if err := rows.Scan(&w.Address, &w.AddedBy, &addedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w: %w", pipelineerr.ErrTransientBackend, err)
		}
		w.AddedAt = time.Unix(addedAt, 0).UTC()
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// AddWallet inserts addr into the tracked set. A duplicate insert is a
// no-op, signaled to the caller via the returned bool (true = inserted).
func (r *Registry) AddWallet(addr, addedBy string) (bool, error) {
	res, err := r.db.Exec(
		`INSERT INTO tracked_wallets (address, added_by, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`,
		strings.ToLower(addr), addedBy, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("add wallet: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add wallet rows affected: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return n > 0, nil
}

// RemoveWallet deletes addr from the tracked set.
func (r *Registry) RemoveWallet(addr string) error {
	if _, err := r.db.Exec(`DELETE FROM tracked_wallets WHERE LOWER(address) = LOWER(?)`, addr); err != nil {
		return fmt.Errorf("remove wallet: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// SubscribersGeneral returns every general push subscriber.
func (r *Registry) SubscribersGeneral() ([]domain.PushSubscription, error) {
	return r.pushSubscriptions(`SELECT user_id, push_key, created_at FROM push_subscriptions`)
}

// SubscribersSequentialSells returns every sequential-sells push subscriber.
func (r *Registry) SubscribersSequentialSells() ([]domain.PushSubscription, error) {
	return r.pushSubscriptions(`SELECT user_id, push_key, created_at FROM push_sequential_sells_subscriptions`)
}

func (r *Registry) pushSubscriptions(query string) ([]domain.PushSubscription, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("push subscriptions: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	defer rows.Close()

	var subs []domain.PushSubscription
	for rows.Next() {
		var s domain.PushSubscription
		var createdAt int64
		if err := rows.Scan(&s.UserID, &s.PushKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w: %w", pipelineerr.ErrTransientBackend, err)
		}
		s.CreatedAt = time.Unix(createdAt, 0).UTC()
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// AddPushSubscription upserts a general push subscription for userID.
func (r *Registry) AddPushSubscription(userID, pushKey string) error {
	_, err := r.db.Exec(
		`INSERT INTO push_subscriptions (user_id, push_key, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET push_key = excluded.push_key`,
		userID, pushKey, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add push subscription: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// RemovePushSubscription removes userID's general push subscription.
func (r *Registry) RemovePushSubscription(userID string) error {
	if _, err := r.db.Exec(`DELETE FROM push_subscriptions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("remove push subscription: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// AddSequentialSellsSubscription upserts a sequential-sells push
// subscription for userID.
func (r *Registry) AddSequentialSellsSubscription(userID, pushKey string) error {
	_, err := r.db.Exec(
		`INSERT INTO push_sequential_sells_subscriptions (user_id, push_key, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET push_key = excluded.push_key`,
		userID, pushKey, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add sequential-sells subscription: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// RemoveSequentialSellsSubscription removes userID's sequential-sells
// push subscription.
func (r *Registry) RemoveSequentialSellsSubscription(userID string) error {
	if _, err := r.db.Exec(`DELETE FROM push_sequential_sells_subscriptions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("remove sequential-sells subscription: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// ChatSubscribers returns every chat-channel subscriber's user id.
func (r *Registry) ChatSubscribers() ([]string, error) {
	rows, err := r.db.Query(`SELECT user_id FROM chat_subscribers`)
	if err != nil {
		return nil, fmt.Errorf("chat subscribers: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat subscriber: %w: %w", pipelineerr.ErrTransientBackend, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddChatSubscriber adds userID to the chat-channel subscriber set.
func (r *Registry) AddChatSubscriber(userID string) error {
	_, err := r.db.Exec(
		`INSERT INTO chat_subscribers (user_id, created_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("add chat subscriber: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// RemoveChatSubscriber removes userID from the chat-channel subscriber set.
func (r *Registry) RemoveChatSubscriber(userID string) error {
	if _, err := r.db.Exec(`DELETE FROM chat_subscribers WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("remove chat subscriber: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// Ping reports whether the registry database answers.
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
