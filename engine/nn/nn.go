// Package nn provides the dense stages the critic is built from: linear
// projections, leaky ReLU, input normalisation, row softmax and entropy.
// Matrices hold one batch item per row.
package nn

import (
	"math"
	"slices"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LeakySlope is the negative-side slope of LeakyReLU.
const LeakySlope = 0.01

// EntropyEps keeps log finite for zero probabilities.
const EntropyEps = 1e-8

// Linear computes x·Wᵀ + b. W is out×in. B is nil for bias-free projections.
type Linear struct {
	W *mat.Dense
	B []float64
}

// NewLinear initialises a layer with weights and bias drawn from
// U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(rng *rand.Rand, in, out int, bias bool) Linear {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * bound
	}
	l := Linear{W: mat.NewDense(out, in, w)}
	if bias {
		l.B = make([]float64, out)
		for i := range l.B {
			l.B[i] = (2*rng.Float64() - 1) * bound
		}
	}
	return l
}

// In returns the input width.
func (l Linear) In() int {
	_, c := l.W.Dims()
	return c
}

// Out returns the output width.
func (l Linear) Out() int {
	r, _ := l.W.Dims()
	return r
}

// Clone returns a deep copy.
func (l Linear) Clone() Linear {
	c := Linear{B: slices.Clone(l.B)}
	if l.W != nil {
		c.W = mat.DenseCopyOf(l.W)
	}
	return c
}

// Forward applies the projection to every row of x.
func (l Linear) Forward(x mat.Matrix) *mat.Dense {
	var y mat.Dense
	y.Mul(x, l.W.T())
	if l.B != nil {
		r, _ := y.Dims()
		for i := 0; i < r; i++ {
			floats.Add(y.RawRowView(i), l.B)
		}
	}
	return &y
}

// LeakyReLU applies max(x, slope·x) element-wise in place and returns m.
func LeakyReLU(m *mat.Dense) *mat.Dense {
	m.Apply(func(_, _ int, v float64) float64 {
		if v < 0 {
			return LeakySlope * v
		}
		return v
	}, m)
	return m
}

// BatchNorm standardises each feature with stored running statistics and no
// affine transform.
type BatchNorm struct {
	Mean []float64
	Var  []float64
	Eps  float64
}

// NewBatchNorm returns identity statistics (mean 0, variance 1) for dim features.
func NewBatchNorm(dim int) BatchNorm {
	v := make([]float64, dim)
	for i := range v {
		v[i] = 1
	}
	return BatchNorm{Mean: make([]float64, dim), Var: v, Eps: 1e-5}
}

// DefaultMomentum is the running-statistics update rate.
const DefaultMomentum = 0.1

// Dim returns the number of features.
func (b BatchNorm) Dim() int { return len(b.Mean) }

// Clone returns a deep copy.
func (b BatchNorm) Clone() BatchNorm {
	return BatchNorm{Mean: slices.Clone(b.Mean), Var: slices.Clone(b.Var), Eps: b.Eps}
}

// Forward returns (x - mean) / sqrt(var + eps) as a new matrix, using the
// running statistics.
func (b BatchNorm) Forward(x mat.Matrix) *mat.Dense {
	return standardise(x, b.Mean, b.Var, b.Eps)
}

// ForwardBatch standardises x with its own column mean and population
// variance. A single-row batch has no spread, so it falls back to Forward.
func (b BatchNorm) ForwardBatch(x mat.Matrix) *mat.Dense {
	if r, _ := x.Dims(); r < 2 {
		return b.Forward(x)
	}
	mean, variance := columnStats(x, stat.PopMeanVariance)
	return standardise(x, mean, variance, b.Eps)
}

// Observe folds the column statistics of x into the running statistics:
// s = (1-momentum)*s + momentum*batch, with the unbiased batch variance.
// Single-row batches are ignored.
func (b *BatchNorm) Observe(x mat.Matrix, momentum float64) {
	if r, _ := x.Dims(); r < 2 {
		return
	}
	mean, variance := columnStats(x, stat.MeanVariance)
	for j := range b.Mean {
		b.Mean[j] = (1-momentum)*b.Mean[j] + momentum*mean[j]
		b.Var[j] = (1-momentum)*b.Var[j] + momentum*variance[j]
	}
}

func columnStats(x mat.Matrix, fn func(x, weights []float64) (float64, float64)) (mean, variance []float64) {
	_, c := x.Dims()
	mean, variance = make([]float64, c), make([]float64, c)
	for j := 0; j < c; j++ {
		mean[j], variance[j] = fn(mat.Col(nil, j, x), nil)
	}
	return mean, variance
}

func standardise(x mat.Matrix, mean, variance []float64, eps float64) *mat.Dense {
	var y mat.Dense
	y.Apply(func(_, j int, v float64) float64 {
		return (v - mean[j]) / math.Sqrt(variance[j]+eps)
	}, x)
	return &y
}

// SoftmaxRows returns the row-wise softmax of m, shifted by each row's max
// for stability.
func SoftmaxRows(m mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.CloneFrom(m)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		hi := floats.Max(row)
		for j, v := range row {
			row[j] = math.Exp(v - hi)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
	return &out
}

// MeanRowEntropy returns the batch mean of -Σ p·log(p+eps) over each row.
func MeanRowEntropy(p mat.Matrix) float64 {
	r, c := p.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := p.At(i, j)
			total -= v * math.Log(v+EntropyEps)
		}
	}
	return total / float64(r)
}

// MeanSquare returns mean(m²) over all elements.
func MeanSquare(m mat.Matrix) float64 {
	r, c := m.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			total += v * v
		}
	}
	return total / float64(r*c)
}

// ArgmaxRows returns the column of each row's largest entry; ties go to the
// lowest column.
func ArgmaxRows(m mat.Matrix) []int {
	r, _ := m.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = floats.MaxIdx(mat.Row(nil, i, m))
	}
	return out
}

// Concat joins matrices column-wise. All inputs must share the row count.
func Concat(ms ...mat.Matrix) *mat.Dense {
	var out mat.Dense
	for i, m := range ms {
		if i == 0 {
			out.CloneFrom(m)
			continue
		}
		var next mat.Dense
		next.Augment(&out, m)
		out = next
	}
	return &out
}
