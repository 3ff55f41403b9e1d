package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"orderbatch/internal/model"
)

// parseClusters reads n_clusters. Empty means the configured default; out-of-range values
// are clamped by the planner rather than rejected here.
func parseClusters(v string) (int, error) {
	return parseOptionalInt(v, "n_clusters")
}

func parseOptionalInt(v, name string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func parseStatus(v string) (model.OrderStatus, error) {
	switch st := model.OrderStatus(strings.ToLower(v)); st {
	case model.OrderStatusAny, model.OrderStatusBatched, model.OrderStatusUnbatched:
		return st, nil
	}
	return "", fmt.Errorf("status must be batched or unbatched")
}

// parseSince accepts YYYY-MM-DD (local midnight) or RFC 3339.
func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, v, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}

func validateOrders(in []model.OrderIn) error {
	if len(in) == 0 {
		return fmt.Errorf("orders must not be empty")
	}
	for i, o := range in {
		if (o.Lat == nil) != (o.Lng == nil) {
			return fmt.Errorf("orders[%d]: lat and lng must be given together", i)
		}
		if o.Weight != nil && (*o.Weight < 0 || math.IsNaN(*o.Weight)) {
			return fmt.Errorf("orders[%d]: weight must be >= 0", i)
		}
	}
	return nil
}
