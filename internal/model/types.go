package model

import "time"

// Core domain types

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Order is an uploaded delivery order. BatchID is empty until a planning run assigns it.
type Order struct {
	ID        string    `json:"id"`
	Pincode   string    `json:"pincode,omitempty"`
	Location  *GeoPoint `json:"location,omitempty"`
	Weight    *float64  `json:"weight,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Batched reports whether the order already belongs to a batch.
func (o Order) Batched() bool { return o.BatchID != "" }

type Batch struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Ordinal     int       `json:"ordinal"` // position within its run, 1-based
	CreatedAt   time.Time `json:"created_at"`
	Centroid    GeoPoint  `json:"centroid"`
	RadiusM     float64   `json:"radius_m"`
	OrderCount  int       `json:"order_count"`
	TotalWeight float64   `json:"total_weight"`
}

// BatchMembership links one order to one batch.
type BatchMembership struct {
	BatchID string `json:"batch_id"`
	OrderID string `json:"order_id"`
}

// BatchWithOrders is the read model for batch listings.
type BatchWithOrders struct {
	Batch
	OrderIDs []string `json:"order_ids"`
}

// OrderIn is the import shape accepted by POST /v1/orders and the upload parsers.
type OrderIn struct {
	ID      string   `json:"order_id"`
	Pincode string   `json:"pincode,omitempty"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Weight  *float64 `json:"weight,omitempty"`
}

// OrderStatus filters order listings.
type OrderStatus string

const (
	OrderStatusAny       OrderStatus = ""
	OrderStatusUnbatched OrderStatus = "unbatched"
	OrderStatusBatched   OrderStatus = "batched"
)

// ImportResult summarises an order import.
type ImportResult struct {
	ImportID string `json:"import_id"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
}

// Order converts the import shape. Coordinates are kept only when both are present.
func (in OrderIn) Order() Order {
	o := Order{ID: in.ID, Pincode: in.Pincode, Weight: in.Weight}
	if in.Lat != nil && in.Lng != nil {
		o.Location = &GeoPoint{Lat: *in.Lat, Lng: *in.Lng}
	}
	return o
}
