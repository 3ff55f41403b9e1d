package planner

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// KMeans partitions points with Lloyd's algorithm, seeded by k-means++.
// Coordinates are treated as plain Cartesian values.
type KMeans struct {
	MaxIterations int
	// Restarts is the number of independent seedings; the lowest-inertia result wins.
	Restarts int
}

// Clustering is the result of one Fit call.
type Clustering struct {
	Assign     []int       // point index -> cluster index
	Centroids  [][]float64 // cluster index -> centroid
	Iterations int
	Inertia    float64 // sum of squared distances to the assigned centroid
}

// Fit clusters points into k groups. k is clamped to [1, len(points)].
// Some clusters may end up empty; callers drop them.
func (km KMeans) Fit(points [][]float64, k int, rng *rand.Rand) Clustering {
	n := len(points)
	if n == 0 {
		return Clustering{}
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	restarts := km.Restarts
	if restarts < 1 {
		restarts = 1
	}
	best := Clustering{Inertia: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		c := km.lloyd(points, seedPlusPlus(points, k, rng))
		if c.Inertia < best.Inertia {
			best = c
		}
	}
	return best
}

func (km KMeans) lloyd(points, centroids [][]float64) Clustering {
	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}
	k := len(centroids)
	dim := len(points[0])
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	iterations := 0
	for it := 1; it <= maxIter; it++ {
		iterations = it
		changed := false
		for i, p := range points {
			j, _ := nearest(p, centroids)
			if assign[i] != j {
				assign[i] = j
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[assign[i]], p)
			counts[assign[i]]++
		}
		// an empty cluster keeps its previous centroid
		for j := range centroids {
			if counts[j] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[j]), sums[j])
			centroids[j] = sums[j]
		}
	}

	inertia := 0.0
	for i, p := range points {
		d := floats.Distance(p, centroids[assign[i]], 2)
		inertia += d * d
	}
	return Clustering{Assign: assign, Centroids: centroids, Iterations: iterations, Inertia: inertia}
}

// seedPlusPlus picks k initial centroids, each next one with probability proportional to its
// squared distance from the nearest centroid chosen so far.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))
	d2 := make([]float64, n)
	for len(centroids) < k {
		for i, p := range points {
			_, d := nearest(p, centroids)
			d2[i] = d * d
		}
		sum := floats.Sum(d2)
		if sum == 0 {
			// every point sits on a centroid already
			centroids = append(centroids, clone(points[rng.IntN(n)]))
			continue
		}
		target := rng.Float64() * sum
		idx := n - 1
		for i, d := range d2 {
			target -= d
			if target < 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, clone(points[idx]))
	}
	return centroids
}

// nearest returns the index of the closest centroid and the distance to it.
// Ties go to the lowest index.
func nearest(p []float64, centroids [][]float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for j, c := range centroids {
		if d := floats.Distance(p, c, 2); d < bestD {
			best, bestD = j, d
		}
	}
	return best, bestD
}

func clone(p []float64) []float64 { return append([]float64(nil), p...) }
