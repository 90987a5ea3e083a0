package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/racketdrop/internal/model"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres wraps all SQL used by intake, the worker and status queries.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping checks the pool can reach the database.
func (r *Postgres) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateItem inserts a submitted item. State and timestamps are set here.
func (r *Postgres) CreateItem(ctx context.Context, item *model.Item) error {
	now := time.Now().UTC()
	item.State = model.StateSubmitted
	item.CreatedAt = now
	item.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO items (id, category, sub_classification, orientation, view_angle, media_ref, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.Category, string(item.SubClassification), string(item.Orientation),
		nullable(string(item.ViewAngle)), item.MediaRef, string(item.State), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetItem returns an item by id.
func (r *Postgres) GetItem(ctx context.Context, id string) (*model.Item, error) {
	var (
		item      model.Item
		sub       string
		orient    string
		viewAngle sql.NullString
		state     string
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, category, sub_classification, orientation, view_angle, media_ref, state, created_at, updated_at
		FROM items WHERE id=$1
	`, id)
	if err := row.Scan(&item.ID, &item.Category, &sub, &orient, &viewAngle, &item.MediaRef, &state, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select item: %w", err)
	}
	parsed, err := model.ParseItemState(state)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", id, err)
	}
	item.State = parsed
	item.SubClassification = model.SubClassification(sub)
	item.Orientation = model.Orientation(orient)
	if viewAngle.Valid {
		item.ViewAngle = model.ViewAngle(viewAngle.String)
	}
	return &item, nil
}

// MarkProcessing moves a submitted item to processing. An item the worker has
// already moved on is left alone so a fast worker is never overwritten.
func (r *Postgres) MarkProcessing(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE items SET state=$1, updated_at=$2
		WHERE id=$3 AND state=$4
	`, string(model.StateProcessing), time.Now().UTC(), id, string(model.StateSubmitted))
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

// MarkFailed marks an analysis attempt as failed. A completed item keeps its
// state so a late failing redelivery cannot orphan an existing result.
func (r *Postgres) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE items SET state=$1, updated_at=$2
		WHERE id=$3 AND state<>$4
	`, string(model.StateFailed), time.Now().UTC(), id, string(model.StateCompleted))
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, id)
	}
	return nil
}

// CompleteWithResult upserts the result and marks the item completed in one
// transaction.
func (r *Postgres) CompleteWithResult(ctx context.Context, res *model.Result) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertResult(ctx, tx, res); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE items SET state=$1, updated_at=$2 WHERE id=$3
		`, string(model.StateCompleted), res.UpdatedAt, res.ItemID)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("item %s: %w", res.ItemID, ErrNotFound)
		}
		return nil
	})
}

// UpsertResult writes the result for an item, replacing any earlier one.
func (r *Postgres) UpsertResult(ctx context.Context, res *model.Result) error {
	return upsertResult(ctx, r.pool, res)
}

func upsertResult(ctx context.Context, q querier, res *model.Result) error {
	now := time.Now().UTC()
	res.UpdatedAt = now
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	// created_at keeps the first write; the returned value reflects the row.
	err := q.QueryRow(ctx, `
		INSERT INTO results (item_id, summary, details, attributed_to, fallback_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (item_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			details = EXCLUDED.details,
			attributed_to = EXCLUDED.attributed_to,
			fallback_reason = EXCLUDED.fallback_reason,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, res.ItemID, res.Summary, res.Details, res.AttributedTo, res.FallbackReason, res.CreatedAt, res.UpdatedAt).Scan(&res.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// GetResult returns the result stored for an item.
func (r *Postgres) GetResult(ctx context.Context, itemID string) (*model.Result, error) {
	var (
		res      model.Result
		fallback sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT item_id, summary, details, attributed_to, fallback_reason, created_at, updated_at
		FROM results WHERE item_id=$1
	`, itemID)
	if err := row.Scan(&res.ItemID, &res.Summary, &res.Details, &res.AttributedTo, &fallback, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result %s: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("select result: %w", err)
	}
	if fallback.Valid {
		reason := fallback.String
		res.FallbackReason = &reason
	}
	return &res, nil
}

// ListStale returns items that have sat in state since before cutoff, oldest
// first. A limit of zero or less lists them all.
func (r *Postgres) ListStale(ctx context.Context, state model.ItemState, cutoff time.Time, limit int) ([]model.Item, error) {
	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, category, sub_classification, orientation, COALESCE(view_angle,''), media_ref, state, created_at, updated_at
		FROM items WHERE state=$1 AND updated_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(state), cutoff, rowLimit)
	if err != nil {
		return nil, fmt.Errorf("list stale items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var (
			item                        model.Item
			sub, orient, view, stateStr string
		)
		if err := rows.Scan(&item.ID, &item.Category, &sub, &orient, &view, &item.MediaRef, &stateStr, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.SubClassification = model.SubClassification(sub)
		item.Orientation = model.Orientation(orient)
		item.ViewAngle = model.ViewAngle(view)
		parsed, err := model.ParseItemState(stateStr)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		item.State = parsed
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale items: %w", err)
	}
	return items, nil
}

// CountStale counts items that have sat in state since before cutoff.
func (r *Postgres) CountStale(ctx context.Context, state model.ItemState, cutoff time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM items WHERE state=$1 AND updated_at < $2
	`, string(state), cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale items: %w", err)
	}
	return n, nil
}

func (r *Postgres) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
