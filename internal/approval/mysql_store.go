package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"AgentPay-Gate/deploy/migrations"
	xerrors "AgentPay-Gate/internal/errors"
)

// MySQLStore keeps the approval ledger in MySQL so records survive restarts
// and approval links stay valid across deploys.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the connection pool and ensures the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN is empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL connection")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema applies the embedded migration files in lexical order.
func (s *MySQLStore) initSchema() error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read migrations")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read migration "+name)
		}
		if _, err := s.db.Exec(string(stmt)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "apply migration "+name)
		}
	}
	return nil
}

// Create implements Store.
func (s *MySQLStore) Create(ctx context.Context, payload Payload) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode approval payload")
	}

	now := time.Now().Unix()
	record := &Record{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
	}
	if payload.Requirement.MaxTimeoutSeconds > 0 {
		record.ExpiresAt = now + payload.Requirement.MaxTimeoutSeconds
	}

	const stmt = `INSERT INTO approvals (id, status, payload, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, record.ID, record.Status, raw, record.CreatedAt, record.ExpiresAt); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, xerrors.New(xerrors.CodeConflict, "approval id collision")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert approval")
	}
	return record, nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Record, error) {
	const stmt = `SELECT id, status, payload, created_at, expires_at, approved_at, denied_at
        FROM approvals WHERE id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, stmt, id))
}

// Approve implements Store. The conditional UPDATE is the compare-and-swap:
// only the caller that still observes pending performs the transition.
func (s *MySQLStore) Approve(ctx context.Context, id string) (*Record, error) {
	return s.resolve(ctx, id, StatusApproved, "approved_at")
}

// Deny implements Store.
func (s *MySQLStore) Deny(ctx context.Context, id string) (*Record, error) {
	return s.resolve(ctx, id, StatusDenied, "denied_at")
}

func (s *MySQLStore) resolve(ctx context.Context, id string, target Status, column string) (*Record, error) {
	stmt := `UPDATE approvals SET status = ?, ` + column + ` = ? WHERE id = ? AND status = ?`
	if _, err := s.db.ExecContext(ctx, stmt, target, time.Now().Unix(), id, StatusPending); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "resolve approval")
	}
	// Whether we won the race or lost it, the stored row is the answer.
	return s.Get(ctx, id)
}

// ListPending implements Store.
func (s *MySQLStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	const stmt = `SELECT id, status, payload, created_at, expires_at, approved_at, denied_at
        FROM approvals WHERE status = ? ORDER BY created_at DESC, id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, StatusPending, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list pending approvals")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate approvals")
	}
	return records, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *MySQLStore) scanOne(row *sql.Row) (*Record, error) {
	record, err := scanRecord(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var raw []byte
	if err := row.Scan(&record.ID, &record.Status, &raw, &record.CreatedAt,
		&record.ExpiresAt, &record.ApprovedAt, &record.DeniedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan approval row")
	}
	if err := json.Unmarshal(raw, &record.Payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode approval payload")
	}
	return &record, nil
}

var _ Store = (*MySQLStore)(nil)
