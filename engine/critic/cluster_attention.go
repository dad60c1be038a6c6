package critic

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/cluster"
)

// ClusterAttention computes scaled dot-product logits between clusters, one
// row of K-1 logits per (cluster, head), skipping the querying cluster.
type ClusterAttention struct {
	heads     []ClusterHead
	attendDim int
}

// NewClusterAttention wraps the cluster-level extractors.
func NewClusterAttention(heads []ClusterHead) (*ClusterAttention, error) {
	if len(heads) == 0 {
		return nil, engine.ConfigErrorf("cluster attention needs at least one head")
	}
	return &ClusterAttention{heads: heads, attendDim: heads[0].Key.Out()}, nil
}

// ClusterEncodings averages the members' state-action encodings per cluster.
// An empty cluster encodes as zeros so it contributes nothing.
func ClusterEncodings(a cluster.Assignment, saEncodings []*mat.Dense) ([]*mat.Dense, error) {
	if len(saEncodings) == 0 {
		return nil, engine.ConfigErrorf("no agent encodings to aggregate")
	}
	batch, hidden := saEncodings[0].Dims()
	out := make([]*mat.Dense, a.NumClusters())
	for c := range out {
		sum := mat.NewDense(batch, hidden, nil)
		members := a.Agents(engine.ClusterID(c))
		for _, id := range members {
			if int(id) < 0 || int(id) >= len(saEncodings) {
				return nil, engine.ConsistencyErrorf("cluster %d lists agent %d, only %d encodings supplied", c, id, len(saEncodings))
			}
			sum.Add(sum, saEncodings[id])
		}
		if len(members) > 0 {
			sum.Scale(1/float64(len(members)), sum)
		}
		out[c] = sum
	}
	return out, nil
}

// Logits returns [cluster][head] matrices of shape batch×(K-1). Column j of
// cluster c's matrix addresses cluster cluster.Unshift(c, j). With a single
// cluster there is nothing to attend to and every entry is nil.
func (ca *ClusterAttention) Logits(encodings []*mat.Dense) ([][]*mat.Dense, error) {
	k := len(encodings)
	out := make([][]*mat.Dense, k)
	for c := range out {
		out[c] = make([]*mat.Dense, len(ca.heads))
	}
	if k < 2 {
		return out, nil
	}
	batch, _ := encodings[0].Dims()
	scale := 1 / math.Sqrt(float64(ca.attendDim))

	for h, head := range ca.heads {
		keys := make([]*mat.Dense, k)
		selectors := make([]*mat.Dense, k)
		for c, enc := range encodings {
			keys[c] = head.Key.Forward(enc)
			selectors[c] = head.Selector.Forward(enc)
		}
		for c := 0; c < k; c++ {
			logits := mat.NewDense(batch, k-1, nil)
			for other := 0; other < k; other++ {
				if other == c {
					continue
				}
				j, err := cluster.SkipSelf(c, other)
				if err != nil {
					return nil, err
				}
				for b := 0; b < batch; b++ {
					logits.Set(b, j, scale*mat.Dot(selectors[c].RowView(b), keys[other].RowView(b)))
				}
			}
			out[c][h] = logits
		}
	}
	return out, nil
}
