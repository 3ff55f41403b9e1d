package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite" // CGO-free driver
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"orderbatch/internal/model"
)

type orderRow struct {
	ID        string `gorm:"primaryKey"`
	Pincode   string
	Lat       *float64
	Lng       *float64
	Weight    *float64
	BatchID   *string `gorm:"index"`
	CreatedAt time.Time
}

func (orderRow) TableName() string { return "orders" }

type batchRow struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Ordinal     int
	CreatedAt   time.Time `gorm:"index"`
	CentroidLat float64
	CentroidLng float64
	RadiusM     float64
	OrderCount  int
	TotalWeight float64
}

func (batchRow) TableName() string { return "batches" }

type batchOrderRow struct {
	BatchID string `gorm:"primaryKey"`
	OrderID string `gorm:"primaryKey;uniqueIndex"`
}

func (batchOrderRow) TableName() string { return "batch_orders" }

// SQLite is a single-file store for local runs and small deployments.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the database at path and creates missing tables.
func NewSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer at a time; avoids SQLITE_BUSY under concurrent requests
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&batchRow{}, &orderRow{}, &batchOrderRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) InsertOrders(ctx context.Context, orders []model.Order) (model.ImportResult, error) {
	prepared, skipped := prepareOrders(orders, time.Now().UTC())
	res := model.ImportResult{ImportID: newImportID(), Skipped: skipped}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range prepared {
			row := toOrderRow(o)
			r := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if r.Error != nil {
				return fmt.Errorf("insert order %s: %w", o.ID, r.Error)
			}
			if r.RowsAffected == 0 {
				res.Skipped++
				continue
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return model.ImportResult{}, err
	}
	return res, nil
}

func (s *SQLite) ListOrders(ctx context.Context, status model.OrderStatus, cursor string, limit int) ([]model.Order, string, error) {
	limit = clampLimit(limit)
	q := s.db.WithContext(ctx).Model(&orderRow{}).Where("id > ?", cursor)
	switch status {
	case model.OrderStatusBatched:
		q = q.Where("batch_id IS NOT NULL")
	case model.OrderStatusUnbatched:
		q = q.Where("batch_id IS NULL")
	}
	var rows []orderRow
	if err := q.Order("id asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, "", err
	}
	out := fromOrderRows(rows)
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *SQLite) ListUnbatchedOrders(ctx context.Context) ([]model.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).Where("batch_id IS NULL").Order("created_at asc, id asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromOrderRows(rows), nil
}

func (s *SQLite) CommitBatch(ctx context.Context, b model.Batch, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return ErrEmptyBatch
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&batchRow{}).Where("id = ?", b.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("batch %s: %w", b.ID, ErrConflict)
		}
		row := batchRow{
			ID:          b.ID,
			Name:        b.Name,
			Ordinal:     b.Ordinal,
			CreatedAt:   b.CreatedAt.UTC(),
			CentroidLat: b.Centroid.Lat,
			CentroidLng: b.Centroid.Lng,
			RadiusM:     b.RadiusM,
			OrderCount:  len(orderIDs),
			TotalWeight: b.TotalWeight,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		r := tx.Model(&orderRow{}).Where("id IN ? AND batch_id IS NULL", orderIDs).Update("batch_id", b.ID)
		if r.Error != nil {
			return fmt.Errorf("claim orders: %w", r.Error)
		}
		if int(r.RowsAffected) != len(orderIDs) {
			return fmt.Errorf("claimed %d of %d orders: %w", r.RowsAffected, len(orderIDs), ErrConflict)
		}
		links := make([]batchOrderRow, len(orderIDs))
		for i, id := range orderIDs {
			links[i] = batchOrderRow{BatchID: b.ID, OrderID: id}
		}
		if err := tx.Create(&links).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("link orders: %w", ErrConflict)
			}
			return fmt.Errorf("link orders: %w", err)
		}
		return nil
	})
}

func (s *SQLite) ListBatches(ctx context.Context, since time.Time) ([]model.BatchWithOrders, error) {
	var rows []batchRow
	q := s.db.WithContext(ctx).Order("created_at asc, ordinal asc, id asc")
	// timestamps are stored as text; compare in the zone they were written in
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.BatchWithOrders, 0, len(rows))
	idx := make(map[string]int, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		idx[r.ID] = len(out)
		ids = append(ids, r.ID)
		out = append(out, model.BatchWithOrders{Batch: model.Batch{
			ID:          r.ID,
			Name:        r.Name,
			Ordinal:     r.Ordinal,
			CreatedAt:   r.CreatedAt,
			Centroid:    model.GeoPoint{Lat: r.CentroidLat, Lng: r.CentroidLng},
			RadiusM:     r.RadiusM,
			OrderCount:  r.OrderCount,
			TotalWeight: r.TotalWeight,
		}})
	}
	if len(ids) == 0 {
		return out, nil
	}
	var links []batchOrderRow
	if err := s.db.WithContext(ctx).Where("batch_id IN ?", ids).Order("batch_id, order_id").Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		i := idx[l.BatchID]
		out[i].OrderIDs = append(out[i].OrderIDs, l.OrderID)
	}
	return out, nil
}

func (s *SQLite) ListMemberships(ctx context.Context) ([]model.BatchMembership, error) {
	var links []batchOrderRow
	if err := s.db.WithContext(ctx).Order("batch_id, order_id").Find(&links).Error; err != nil {
		return nil, err
	}
	out := make([]model.BatchMembership, len(links))
	for i, l := range links {
		out[i] = model.BatchMembership{BatchID: l.BatchID, OrderID: l.OrderID}
	}
	return out, nil
}

func toOrderRow(o model.Order) orderRow {
	row := orderRow{ID: o.ID, Pincode: o.Pincode, Weight: o.Weight, CreatedAt: o.CreatedAt}
	if o.Location != nil {
		lat, lng := o.Location.Lat, o.Location.Lng
		row.Lat, row.Lng = &lat, &lng
	}
	return row
}

func fromOrderRows(rows []orderRow) []model.Order {
	out := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		o := model.Order{ID: r.ID, Pincode: r.Pincode, Weight: r.Weight, CreatedAt: r.CreatedAt}
		if r.Lat != nil && r.Lng != nil {
			o.Location = &model.GeoPoint{Lat: *r.Lat, Lng: *r.Lng}
		}
		if r.BatchID != nil {
			o.BatchID = *r.BatchID
		}
		out = append(out, o)
	}
	return out
}
