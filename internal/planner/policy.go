package planner

import "fmt"

const (
	DefaultTargetGroupSize = 5
	DefaultClusters        = 3
)

// Policy decides how many clusters a planning run asks for.
type Policy interface {
	// Requested returns k before clamping against the order count.
	Requested(orderCount int) int
	fmt.Stringer
}

// Derived asks for roughly TargetGroupSize orders per batch. Group size is an average, not a bound.
type Derived struct {
	TargetGroupSize int
}

func (d Derived) Requested(n int) int {
	size := d.TargetGroupSize
	if size <= 0 {
		size = DefaultTargetGroupSize
	}
	k := n / size
	if k < 1 {
		k = 1
	}
	return k
}

func (d Derived) String() string { return fmt.Sprintf("derived(size=%d)", d.TargetGroupSize) }

// Explicit asks for exactly K clusters. Zero means DefaultClusters; negative values are clamped to 1.
type Explicit struct {
	K int
}

func (e Explicit) Requested(int) int {
	if e.K == 0 {
		return DefaultClusters
	}
	return e.K
}

func (e Explicit) String() string { return fmt.Sprintf("explicit(k=%d)", e.K) }

// ClusterCount applies policy to n orders and clamps the result to [1, n].
// clamped is true when the policy asked for something outside that range.
func ClusterCount(p Policy, n int) (k int, clamped bool) {
	if n <= 0 {
		return 0, false
	}
	k = p.Requested(n)
	switch {
	case k > n:
		return n, true
	case k < 1:
		return 1, true
	}
	return k, false
}
