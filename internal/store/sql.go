package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gitevents/internal/model"
)

type SQLRepository struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

func NewSQLRepository(db *sql.DB, dialect string) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	d := strings.ToLower(strings.TrimSpace(dialect))
	if d == "" {
		return nil, fmt.Errorf("empty dialect")
	}
	if d != "postgres" && d != "sqlite" {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &SQLRepository{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Insert writes record with a single statement, so a concurrent ListAll sees
// either the whole row or nothing.
func (s *SQLRepository) Insert(ctx context.Context, record model.Record) (RecordID, error) {
	if err := validateRecord(record); err != nil {
		return "", err
	}

	id := newRecordID()
	var from interface{}
	if record.FromBranch != nil {
		from = *record.FromBranch
	}
	query := `INSERT INTO webhook_records (id, action, author, from_branch, to_branch, event_timestamp, received_at) VALUES (` +
		s.ph(1) + "," + s.ph(2) + "," + s.ph(3) + "," + s.ph(4) + "," + s.ph(5) + "," + s.ph(6) + "," + s.ph(7) + ")"
	_, err := s.db.ExecContext(ctx, query,
		string(id),
		string(record.Action),
		record.Author,
		from,
		record.ToBranch,
		record.Timestamp,
		s.tsValue(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

func (s *SQLRepository) ListAll(ctx context.Context) ([]StoredRecord, error) {
	query := `SELECT id, action, author, from_branch, to_branch, event_timestamp, received_at FROM webhook_records ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]StoredRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (s *SQLRepository) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLRepository) tsValue(t time.Time) interface{} {
	if s.dialect == "sqlite" {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (StoredRecord, error) {
	var (
		r           StoredRecord
		id          string
		action      string
		from        sql.NullString
		receivedRaw interface{}
	)
	if err := row.Scan(&id, &action, &r.Record.Author, &from, &r.Record.ToBranch, &r.Record.Timestamp, &receivedRaw); err != nil {
		return StoredRecord{}, fmt.Errorf("scan record: %w", err)
	}
	r.ID = RecordID(id)
	r.Record.Action = model.Action(action)
	if from.Valid {
		r.Record.FromBranch = model.StringPtr(from.String)
	}
	receivedAt, err := parseTimeRaw(receivedRaw)
	if err != nil {
		return StoredRecord{}, err
	}
	r.ReceivedAt = receivedAt
	return r, nil
}

func parseTimeRaw(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time type %T", v)
	}
}

func parseTimeString(in string) (time.Time, error) {
	in = strings.TrimSpace(in)
	if in == "" {
		return time.Time{}, nil
	}
	formats := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05"}
	for _, f := range formats {
		if t, err := time.Parse(f, in); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s", in)
}
