// Package store persists orders and the user action log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

// Config configures the store.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string
}

// Store is the SQLite backed order store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	dsn := cfg.Path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Single writer; status transitions are read-check-write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("order store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		work_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		theme TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		price INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_id TEXT,
		paid_at INTEGER,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	CREATE TABLE IF NOT EXISTS user_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_user_actions_user ON user_actions(user_id);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateOrder inserts o with status created and returns its id. An empty
// id is replaced with a new ULID.
func (s *Store) CreateOrder(ctx context.Context, o model.Order) (string, error) {
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, chat_id, work_type, subject, theme, page_count, price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.ChatID, o.WorkType, o.Subject, o.Theme, o.PageCount, o.Price,
		string(model.StatusCreated), o.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store: create order: %w", err)
	}
	return o.ID, nil
}

// UpdateStatus moves an order to status. paymentID is stored when non-empty.
// Transitions outside the order lifecycle fail with apperr.ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.OrderStatus, paymentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	defer tx.Rollback()

	var cur string
	var paidAt sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT status, paid_at FROM orders WHERE id = ?`, id).Scan(&cur, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}

	from := model.OrderStatus(cur)
	if !model.ValidTransition(from, status) || (status == model.StatusRefunded && !paidAt.Valid) {
		return fmt.Errorf("store: order %s %s -> %s: %w", id, from, status, apperr.ErrInvalidTransition)
	}

	now := s.now().UnixMilli()
	q := `UPDATE orders SET status = ?,
		payment_id = COALESCE(NULLIF(?, ''), payment_id),
		paid_at = CASE WHEN ? THEN ? ELSE paid_at END,
		completed_at = CASE WHEN ? THEN ? ELSE completed_at END
		WHERE id = ?`
	_, err = tx.ExecContext(ctx, q, string(status), paymentID,
		status == model.StatusPaid, now,
		status == model.StatusCompleted, now,
		id)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	log.Debug().Str("order_id", id).Str("from", string(from)).Str("to", string(status)).Msg("order status updated")
	return nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var (
		o                   model.Order
		status              string
		paymentID           sql.NullString
		paidAt, completedAt sql.NullInt64
		createdAt           int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, work_type, subject, theme, page_count, price, status,
			payment_id, paid_at, created_at, completed_at
		FROM orders WHERE id = ?`, id).Scan(
		&o.ID, &o.UserID, &o.ChatID, &o.WorkType, &o.Subject, &o.Theme, &o.PageCount, &o.Price, &status,
		&paymentID, &paidAt, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("store: order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("store: get order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt)
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	if paidAt.Valid {
		t := time.UnixMilli(paidAt.Int64)
		o.PaidAt = &t
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		o.CompletedAt = &t
	}
	return o, nil
}

// LogAction appends to the user action log.
func (s *Store) LogAction(ctx context.Context, userID, action string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_actions (user_id, action, at) VALUES (?, ?, ?)`,
		userID, action, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: log action: %w", err)
	}
	return nil
}

// Actions returns the action log of userID, oldest first.
func (s *Store) Actions(ctx context.Context, userID string) ([]model.UserAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, action, at FROM user_actions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: actions: %w", err)
	}
	defer rows.Close()

	var out []model.UserAction
	for rows.Next() {
		var a model.UserAction
		var at int64
		if err := rows.Scan(&a.UserID, &a.Action, &at); err != nil {
			return nil, fmt.Errorf("store: actions: %w", err)
		}
		a.At = time.UnixMilli(at)
		out = append(out, a)
	}
	return out, rows.Err()
}
