package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orderbatch/internal/model"
)

// Postgres implements Store on the schema in db/schema.sql.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// InsertOrders inserts orders in one transaction. Existing ids are skipped.
func (p *Postgres) InsertOrders(ctx context.Context, orders []model.Order) (model.ImportResult, error) {
	prepared, skipped := prepareOrders(orders, time.Now().UTC())
	res := model.ImportResult{ImportID: newImportID(), Skipped: skipped}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range prepared {
		var lat, lng any
		if o.Location != nil {
			lat, lng = o.Location.Lat, o.Location.Lng
		}
		r, err := tx.ExecContext(ctx, `INSERT INTO orders (id, pincode, lat, lng, weight, created_at) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (id) DO NOTHING`,
			o.ID, nullIfEmpty(o.Pincode), lat, lng, o.Weight, o.CreatedAt)
		if err != nil {
			return res, fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Skipped++
			continue
		}
		res.Created++
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Postgres) ListOrders(ctx context.Context, status model.OrderStatus, cursor string, limit int) ([]model.Order, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id, pincode, lat, lng, weight, batch_id, created_at FROM orders WHERE id > $1`
	switch status {
	case model.OrderStatusBatched:
		q += ` AND batch_id IS NOT NULL`
	case model.OrderStatusUnbatched:
		q += ` AND batch_id IS NULL`
	}
	q += ` ORDER BY id LIMIT $2`
	rows, err := p.db.QueryContext(ctx, q, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out, err := scanOrders(rows)
	if err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (p *Postgres) ListUnbatchedOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, pincode, lat, lng, weight, batch_id, created_at FROM orders WHERE batch_id IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		var o model.Order
		var pincode, batchID sql.NullString
		var lat, lng, weight sql.NullFloat64
		if err := rows.Scan(&o.ID, &pincode, &lat, &lng, &weight, &batchID, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Pincode = pincode.String
		o.BatchID = batchID.String
		if lat.Valid && lng.Valid {
			o.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		if weight.Valid {
			w := weight.Float64
			o.Weight = &w
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CommitBatch claims the member orders with a conditional update so two concurrent runs can never
// assign the same order twice.
func (p *Postgres) CommitBatch(ctx context.Context, b model.Batch, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return ErrEmptyBatch
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO batches (id, name, ordinal, created_at, centroid_lat, centroid_lng, radius_m, order_count, total_weight) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.Name, b.Ordinal, b.CreatedAt, b.Centroid.Lat, b.Centroid.Lng, b.RadiusM, len(orderIDs), b.TotalWeight)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch %s: %w", b.ID, ErrConflict)
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	r, err := tx.ExecContext(ctx, `UPDATE orders SET batch_id=$1 WHERE id = ANY($2) AND batch_id IS NULL`, b.ID, orderIDs)
	if err != nil {
		return fmt.Errorf("claim orders: %w", err)
	}
	if n, _ := r.RowsAffected(); int(n) != len(orderIDs) {
		return fmt.Errorf("claimed %d of %d orders: %w", n, len(orderIDs), ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO batch_orders (batch_id, order_id) SELECT $1, unnest($2::text[])`, b.ID, orderIDs); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link orders: %w", ErrConflict)
		}
		return fmt.Errorf("link orders: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) ListBatches(ctx context.Context, since time.Time) ([]model.BatchWithOrders, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, ordinal, created_at, centroid_lat, centroid_lng, radius_m, order_count, total_weight FROM batches WHERE created_at >= $1 ORDER BY created_at, ordinal, id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BatchWithOrders{}
	idx := map[string]int{}
	for rows.Next() {
		var b model.BatchWithOrders
		if err := rows.Scan(&b.ID, &b.Name, &b.Ordinal, &b.CreatedAt, &b.Centroid.Lat, &b.Centroid.Lng, &b.RadiusM, &b.OrderCount, &b.TotalWeight); err != nil {
			return nil, err
		}
		idx[b.ID] = len(out)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	links, err := p.ListMemberships(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if i, ok := idx[l.BatchID]; ok {
			out[i].OrderIDs = append(out[i].OrderIDs, l.OrderID)
		}
	}
	return out, nil
}

func (p *Postgres) ListMemberships(ctx context.Context) ([]model.BatchMembership, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT batch_id, order_id FROM batch_orders ORDER BY batch_id, order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BatchMembership{}
	for rows.Next() {
		var l model.BatchMembership
		if err := rows.Scan(&l.BatchID, &l.OrderID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
