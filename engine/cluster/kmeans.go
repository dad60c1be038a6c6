package cluster

import (
	"math"
	"slices"

	"golang.org/x/exp/rand"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
)

// Defaults mirror the usual k-means settings.
const (
	DefaultNInit   = 10
	DefaultMaxIter = 300
	DefaultTol     = 1e-4
	DefaultSeed    = 0
)

// Options controls the k-means run.
type Options struct {
	NInit   int     // restarts; the lowest-inertia run wins
	MaxIter int     // Lloyd iterations per restart
	Tol     float64 // stop when no center moves more than this
	Seed    uint64
}

// Option mutates Options.
type Option func(*Options)

// WithSeed sets the RNG seed used for k-means++ seeding.
func WithSeed(seed uint64) Option { return func(o *Options) { o.Seed = seed } }

// WithNInit sets the number of restarts.
func WithNInit(n int) Option { return func(o *Options) { o.NInit = n } }

// WithMaxIter sets the Lloyd iteration cap.
func WithMaxIter(n int) Option { return func(o *Options) { o.MaxIter = n } }

func buildOptions(opts []Option) Options {
	o := Options{NInit: DefaultNInit, MaxIter: DefaultMaxIter, Tol: DefaultTol, Seed: DefaultSeed}
	for _, fn := range opts {
		fn(&o)
	}
	if o.NInit < 1 {
		o.NInit = 1
	}
	if o.MaxIter < 1 {
		o.MaxIter = 1
	}
	return o
}

// Cluster partitions ids into k groups by k-means over their positions.
//
// Every cluster id in [0, k) is present in the result. Non-empty clusters are
// numbered by their smallest member id; empty clusters come last. When
// k >= len(ids) each agent gets its own cluster and the rest stay empty.
func Cluster(ids []engine.AgentID, positions map[engine.AgentID]engine.Position, k int, opts ...Option) (Assignment, error) {
	if k < 1 {
		return Assignment{}, engine.ConfigErrorf("cluster count must be >= 1, got %d", k)
	}
	agents := append([]engine.AgentID(nil), ids...)
	slices.Sort(agents)
	for i := 1; i < len(agents); i++ {
		if agents[i] == agents[i-1] {
			return Assignment{}, engine.ConsistencyErrorf("agent %d listed twice for clustering", agents[i])
		}
	}
	if len(agents) == 0 {
		return Empty(k), nil
	}

	points := make([]engine.Position, len(agents))
	for i, id := range agents {
		p, ok := positions[id]
		if !ok {
			return Assignment{}, engine.ConsistencyErrorf("no position for agent %d", id)
		}
		points[i] = p
	}

	var labels []int
	if k >= len(agents) {
		labels = make([]int, len(agents))
		for i := range labels {
			labels[i] = i
		}
	} else {
		labels = kmeans(points, k, buildOptions(opts))
	}
	return canonical(agents, labels, k), nil
}

// canonical renumbers raw labels so clusters are ordered by their smallest
// member. agents must be sorted ascending.
func canonical(agents []engine.AgentID, labels []int, k int) Assignment {
	remap := make(map[int]int, k)
	lists := make([][]engine.AgentID, k)
	for i, id := range agents {
		c, ok := remap[labels[i]]
		if !ok {
			c = len(remap)
			remap[labels[i]] = c
		}
		lists[c] = append(lists[c], id)
	}
	return Assignment{lists: lists}
}

// kmeans runs NInit restarts of k-means++ seeded Lloyd iterations and returns
// the labels of the lowest-inertia run. Requires 1 <= k < len(points).
func kmeans(points []engine.Position, k int, o Options) []int {
	rng := rand.New(rand.NewSource(o.Seed))
	var best []int
	bestInertia := math.Inf(1)
	for run := 0; run < o.NInit; run++ {
		centers := seedPlusPlus(points, k, rng)
		labels, inertia := lloyd(points, centers, o.MaxIter, o.Tol)
		if best == nil || inertia < bestInertia {
			bestInertia = inertia
			best = labels
		}
	}
	return best
}

func sqDist(a, b engine.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// seedPlusPlus picks k initial centers with D^2 weighting. When every
// remaining point coincides with a center, the first unused point is taken.
func seedPlusPlus(points []engine.Position, k int, rng *rand.Rand) []engine.Position {
	centers := make([]engine.Position, 0, k)
	used := make([]bool, len(points))
	first := rng.Intn(len(points))
	centers = append(centers, points[first])
	used[first] = true

	dist := make([]float64, len(points))
	for i, p := range points {
		dist[i] = sqDist(p, centers[0])
	}
	for len(centers) < k {
		total := 0.0
		for _, d := range dist {
			total += d
		}
		next := -1
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if r <= 0 && d > 0 {
					next = i
					break
				}
			}
			if next < 0 {
				// float round-off left r slightly positive
				for i := len(dist) - 1; i >= 0; i-- {
					if dist[i] > 0 {
						next = i
						break
					}
				}
			}
		} else {
			for i := range points {
				if !used[i] {
					next = i
					break
				}
			}
		}
		used[next] = true
		centers = append(centers, points[next])
		for i, p := range points {
			if d := sqDist(p, points[next]); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

// lloyd iterates assignment and update steps. Ties go to the lower center
// index. A center that loses all its points keeps its previous location.
func lloyd(points []engine.Position, centers []engine.Position, maxIter int, tol float64) ([]int, float64) {
	labels := make([]int, len(points))
	sums := make([]engine.Position, len(centers))
	counts := make([]int, len(centers))
	for iter := 0; iter < maxIter; iter++ {
		assign(points, centers, labels)

		clear(sums)
		clear(counts)
		for i, p := range points {
			sums[labels[i]].X += p.X
			sums[labels[i]].Y += p.Y
			counts[labels[i]]++
		}
		shift := 0.0
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			next := engine.Position{X: sums[c].X / float64(counts[c]), Y: sums[c].Y / float64(counts[c])}
			shift = math.Max(shift, sqDist(next, centers[c]))
			centers[c] = next
		}
		if shift <= tol*tol {
			break
		}
	}
	return labels, assign(points, centers, labels)
}

// assign writes the nearest center per point into labels and returns inertia.
func assign(points, centers []engine.Position, labels []int) float64 {
	inertia := 0.0
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, ctr := range centers {
			if d := sqDist(p, ctr); d < bestD {
				best, bestD = c, d
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return inertia
}
