// Package planner groups geotagged orders into delivery batches.
//
// Planning is pure: it reads a snapshot of orders and returns groups with freshly minted batch ids.
// Writing batches and memberships is left to the caller.
package planner

import (
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"

	"orderbatch/internal/model"
)

// Config tunes the clustering step.
type Config struct {
	MaxIterations int
	Restarts      int
	// Seed fixes the k-means++ seeding. Zero seeds from the clock.
	Seed int64
}

// Group is one non-empty cluster, ready to become a Batch.
type Group struct {
	Index       int            `json:"index"`
	Ordinal     int            `json:"ordinal"`
	BatchID     string         `json:"batch_id"`
	Name        string         `json:"name"`
	OrderIDs    []string       `json:"order_ids"`
	Centroid    model.GeoPoint `json:"centroid"`
	RadiusM     float64        `json:"radius_m"`
	TotalWeight float64        `json:"total_weight"`
}

// Batch converts the group to its persisted form.
func (g Group) Batch(createdAt time.Time) model.Batch {
	return model.Batch{
		ID:          g.BatchID,
		Name:        g.Name,
		Ordinal:     g.Ordinal,
		CreatedAt:   createdAt,
		Centroid:    g.Centroid,
		RadiusM:     g.RadiusM,
		OrderCount:  len(g.OrderIDs),
		TotalWeight: g.TotalWeight,
	}
}

type Plan struct {
	K          int       `json:"k"`
	Clamped    bool      `json:"clamped"`
	Iterations int       `json:"iterations"`
	Inertia    float64   `json:"inertia"`
	Groups     []Group   `json:"groups"`
	Excluded   []string  `json:"excluded,omitempty"`
	PlannedAt  time.Time `json:"planned_at"`
}

// OrderCount is the number of orders placed into groups.
func (p Plan) OrderCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.OrderIDs)
	}
	return n
}

type Planner struct {
	kmeans KMeans
	seed   int64
	ids    IDGenerator
	now    func() time.Time
}

func New(cfg Config, ids IDGenerator) *Planner {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Planner{
		kmeans: KMeans{MaxIterations: cfg.MaxIterations, Restarts: cfg.Restarts},
		seed:   cfg.Seed,
		ids:    ids,
		now:    time.Now,
	}
}

// WithClock replaces the planner clock. Used by tests and the dated id format.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

func (p *Planner) rng() *rand.Rand {
	seed := p.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
}

// Plan clusters orders according to policy. Orders without usable coordinates are left out and
// listed in Plan.Excluded. ErrNothingToBatch and ErrNoCoordinates are returned before any id is minted.
func (p *Planner) Plan(orders []model.Order, policy Policy) (Plan, error) {
	if len(orders) == 0 {
		return Plan{}, ErrNothingToBatch
	}
	eligible := make([]model.Order, 0, len(orders))
	points := make([][]float64, 0, len(orders))
	var excluded []string
	for _, o := range orders {
		if o.Location == nil || !validCoordinate(o.Location.Lat, o.Location.Lng) {
			excluded = append(excluded, o.ID)
			continue
		}
		eligible = append(eligible, o)
		points = append(points, []float64{o.Location.Lat, o.Location.Lng})
	}
	if len(eligible) == 0 {
		return Plan{Excluded: excluded}, ErrNoCoordinates
	}

	k, clamped := ClusterCount(policy, len(eligible))
	res := p.kmeans.Fit(points, k, p.rng())

	members := make([][]int, k)
	for i, c := range res.Assign {
		members[c] = append(members[c], i)
	}

	now := p.now()
	plan := Plan{
		K:          k,
		Clamped:    clamped,
		Iterations: res.Iterations,
		Inertia:    res.Inertia,
		Excluded:   excluded,
		PlannedAt:  now,
	}
	for idx, m := range members {
		if len(m) == 0 {
			continue
		}
		plan.Groups = append(plan.Groups, p.group(idx, len(plan.Groups)+1, m, eligible, now))
	}
	return plan, nil
}

func (p *Planner) group(idx, ordinal int, members []int, orders []model.Order, now time.Time) Group {
	lats := make([]float64, len(members))
	lngs := make([]float64, len(members))
	g := Group{
		Index:    idx,
		Ordinal:  ordinal,
		BatchID:  p.ids.NewID(now),
		Name:     fmt.Sprintf("Batch %d", ordinal),
		OrderIDs: make([]string, 0, len(members)),
	}
	for i, m := range members {
		o := orders[m]
		g.OrderIDs = append(g.OrderIDs, o.ID)
		lats[i], lngs[i] = o.Location.Lat, o.Location.Lng
		if o.Weight != nil {
			g.TotalWeight += *o.Weight
		}
	}
	g.Centroid = model.GeoPoint{Lat: stat.Mean(lats, nil), Lng: stat.Mean(lngs, nil)}
	for i := range members {
		if d := HaversineMeters(g.Centroid.Lat, g.Centroid.Lng, lats[i], lngs[i]); d > g.RadiusM {
			g.RadiusM = d
		}
	}
	return g
}
