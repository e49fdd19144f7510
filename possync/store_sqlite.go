package possync

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the durable QueueStore used by the agent. One file per
// device; operations survive restarts and offline periods.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the queue database at path.
// Safe to call on every start.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Enqueue(op QueuedOperation) (bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(1) FROM queued_operations WHERE id = ?", op.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("enqueue lookup: %w", err)
	}

	if exists > 0 {
		// Same identity re-submitted: refresh the request, keep the identity.
		_, err := s.db.Exec(
			"UPDATE queued_operations SET method = ?, url = ?, payload = ? WHERE id = ?",
			op.Method, op.URL, []byte(op.Payload), op.ID)
		if err != nil {
			return false, fmt.Errorf("enqueue refresh: %w", err)
		}
		return false, nil
	}

	_, err = s.db.Exec(
		`INSERT INTO queued_operations
		   (id, method, url, payload, idempotency_key, status, retries, created_at, last_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		op.ID, op.Method, op.URL, []byte(op.Payload), op.IdempotencyKey,
		string(op.Status), op.Retries, formatTime(op.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("enqueue insert: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) List() ([]QueuedOperation, error) {
	rows, err := s.db.Query(
		`SELECT id, method, url, payload, idempotency_key, status, retries, created_at, last_attempt_at
		   FROM queued_operations
		  WHERE status IN (?, ?, ?)
		  ORDER BY created_at ASC, id ASC`,
		string(StatusPending), string(StatusSyncing), string(StatusConflict))
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) Get(id string) (QueuedOperation, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, method, url, payload, idempotency_key, status, retries, created_at, last_attempt_at
		   FROM queued_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return QueuedOperation{}, false, nil
	}
	if err != nil {
		return QueuedOperation{}, false, err
	}
	return op, true, nil
}

func (s *SQLiteStore) SetStatus(id string, status OperationStatus, attemptAt *time.Time) error {
	var err error
	if attemptAt != nil {
		_, err = s.db.Exec(
			"UPDATE queued_operations SET status = ?, last_attempt_at = ? WHERE id = ?",
			string(status), formatTime(*attemptAt), id)
	} else {
		_, err = s.db.Exec(
			"UPDATE queued_operations SET status = ? WHERE id = ?",
			string(status), id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementRetries(id string) error {
	_, err := s.db.Exec("UPDATE queued_operations SET retries = retries + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("increment retries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetRetries(id string) error {
	_, err := s.db.Exec("UPDATE queued_operations SET retries = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("reset retries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(id string) error {
	_, err := s.db.Exec("DELETE FROM queued_operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendHistory(entry SyncHistoryEntry) error {
	_, err := s.db.Exec(
		"INSERT INTO sync_history (operation_id, event, reason, created_at) VALUES (?, ?, ?, ?)",
		entry.OperationId, string(entry.Event), entry.Reason, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(operationId string) ([]SyncHistoryEntry, error) {
	query := "SELECT operation_id, event, reason, created_at FROM sync_history"
	args := []interface{}{}
	if operationId != "" {
		query += " WHERE operation_id = ?"
		args = append(args, operationId)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var entry SyncHistoryEntry
		var reason sql.NullString
		var createdAt string
		if err := rows.Scan(&entry.OperationId, &entry.Event, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Reason = reason.String
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PruneHistory(olderThan time.Time) (int, error) {
	res, err := s.db.Exec("DELETE FROM sync_history WHERE created_at < ?", formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (QueuedOperation, error) {
	var op QueuedOperation
	var payload []byte
	var createdAt string
	var lastAttemptAt sql.NullString

	err := row.Scan(&op.ID, &op.Method, &op.URL, &payload, &op.IdempotencyKey,
		&op.Status, &op.Retries, &createdAt, &lastAttemptAt)
	if err != nil {
		return QueuedOperation{}, err
	}

	op.Payload = payload
	op.CreatedAt = parseTime(createdAt)
	if lastAttemptAt.Valid {
		t := parseTime(lastAttemptAt.String)
		op.LastAttemptAt = &t
	}
	return op, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
