package db

import (
	"context"
	"database/sql"
	"strings"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

type Snapshot struct {
	Seq        int64
	ID         string
	Message    string
	FileCount  int64
	TotalBytes int64
	CreatedAt  int64
}

const upsertSnapshot = `
INSERT INTO snapshots (id, message, file_count, total_bytes, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET message = excluded.message
`

type UpsertSnapshotParams struct {
	ID         string
	Message    string
	FileCount  int64
	TotalBytes int64
	CreatedAt  int64
}

// UpsertSnapshot inserts a snapshot row. An existing row keeps its position
// and creation time; only the message is replaced.
func (q *Queries) UpsertSnapshot(ctx context.Context, arg UpsertSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, upsertSnapshot,
		arg.ID,
		arg.Message,
		arg.FileCount,
		arg.TotalBytes,
		arg.CreatedAt,
	)
	return err
}

const getSnapshot = `
SELECT seq, id, message, file_count, total_bytes, created_at FROM snapshots
WHERE id = ?
`

func (q *Queries) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	row := q.db.QueryRowContext(ctx, getSnapshot, id)
	var i Snapshot
	err := row.Scan(
		&i.Seq,
		&i.ID,
		&i.Message,
		&i.FileCount,
		&i.TotalBytes,
		&i.CreatedAt,
	)
	return i, err
}

const listSnapshots = `
SELECT seq, id, message, file_count, total_bytes, created_at FROM snapshots
ORDER BY seq
`

func (q *Queries) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	return q.query(ctx, listSnapshots)
}

const findSnapshotsByPrefix = `
SELECT seq, id, message, file_count, total_bytes, created_at FROM snapshots
WHERE substr(id, 1, ?) = ?
ORDER BY seq
`

// FindSnapshotsByPrefix returns every snapshot whose id starts with prefix.
func (q *Queries) FindSnapshotsByPrefix(ctx context.Context, prefix string) ([]Snapshot, error) {
	return q.query(ctx, findSnapshotsByPrefix, len(prefix), strings.ToLower(prefix))
}

const countSnapshots = `
SELECT count(*) FROM snapshots
`

func (q *Queries) CountSnapshots(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countSnapshots)
	var count int64
	err := row.Scan(&count)
	return count, err
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) ([]Snapshot, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Snapshot
	for rows.Next() {
		var i Snapshot
		if err := rows.Scan(
			&i.Seq,
			&i.ID,
			&i.Message,
			&i.FileCount,
			&i.TotalBytes,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
