package kl

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GaussUnitGauss builds KL(N(mu, diag(variance)) || N(0, I)) for every row:
//
//	-0.5 * Σ_d (1 + log variance − mu² − variance)
//
// mu and variance are [batch, dim] and the result is [batch]. The variance
// must be strictly positive; inside a graph that is the caller's job
// (Normal produces it through exp). GaussUnitGaussKL checks it eagerly.
func GaussUnitGauss(mu, variance *G.Node) (*G.Node, error) {
	if err := sameMatrixShape(mu.Shape(), variance.Shape(), "variance"); err != nil {
		return nil, err
	}

	g := mu.Graph()
	one := g.Constant(G.NewF64(1.0))
	negHalf := g.Constant(G.NewF64(-0.5))

	k := G.Must(G.Log(variance))
	k = G.Must(G.Add(one, k))
	k = G.Must(G.Sub(k, G.Must(G.Square(mu))))
	k = G.Must(G.Sub(k, variance))
	k = G.Must(G.Sum(k, 1))
	return G.HadamardProd(negHalf, k)
}

// GaussGauss builds KL(N(mu1, diag(var1)) || N(mu2, diag(var2))) per row:
//
//	0.5 * Σ_d (log var2 − log var1 + (var1 + (mu1 − mu2)²) / var2 − 1)
func GaussGauss(mu1, var1, mu2, var2 *G.Node) (*G.Node, error) {
	if err := sameMatrixShape(mu1.Shape(), var1.Shape(), "var1"); err != nil {
		return nil, err
	}
	if err := sameMatrixShape(mu1.Shape(), mu2.Shape(), "mu2"); err != nil {
		return nil, err
	}
	if err := sameMatrixShape(mu1.Shape(), var2.Shape(), "var2"); err != nil {
		return nil, err
	}

	g := mu1.Graph()
	one := g.Constant(G.NewF64(1.0))
	half := g.Constant(G.NewF64(0.5))

	diff := G.Must(G.Sub(mu1, mu2))
	ratio := G.Must(G.Square(diff))
	ratio = G.Must(G.Add(ratio, var1))
	ratio = G.Must(G.HadamardDiv(ratio, var2))

	k := G.Must(G.Sub(G.Must(G.Log(var2)), G.Must(G.Log(var1))))
	k = G.Must(G.Add(k, ratio))
	k = G.Must(G.Sub(k, one))
	k = G.Must(G.Sum(k, 1))
	return G.HadamardProd(half, k)
}

// GaussUnitGaussKL is the eager version of GaussUnitGauss. It returns one KL
// value per row, an ArgumentError for mismatched or non [batch, dim] float64
// inputs, and a DomainError for the first variance that is not strictly
// positive.
func GaussUnitGaussKL(mu, variance tensor.Tensor) ([]float64, error) {
	m, rows, cols, err := matrixData(mu, "mu")
	if err != nil {
		return nil, err
	}
	v, _, _, err := matrixData(variance, "variance")
	if err != nil {
		return nil, err
	}
	if err := sameMatrixShape(mu.Shape(), variance.Shape(), "variance"); err != nil {
		return nil, err
	}
	if err := positive(v, "variance"); err != nil {
		return nil, err
	}

	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := 0; c < cols; c++ {
			i := r*cols + c
			sum += 1 + math.Log(v[i]) - m[i]*m[i] - v[i]
		}
		out[r] = -0.5 * sum
	}
	return out, nil
}

// GaussGaussKL is the eager version of GaussGauss with the same checks as
// GaussUnitGaussKL
func GaussGaussKL(mu1, var1, mu2, var2 tensor.Tensor) ([]float64, error) {
	m1, rows, cols, err := matrixData(mu1, "mu1")
	if err != nil {
		return nil, err
	}

	others := []struct {
		t    tensor.Tensor
		name string
	}{{var1, "var1"}, {mu2, "mu2"}, {var2, "var2"}}
	data := make([][]float64, len(others))
	for i, o := range others {
		d, _, _, err := matrixData(o.t, o.name)
		if err != nil {
			return nil, err
		}
		if err := sameMatrixShape(mu1.Shape(), o.t.Shape(), o.name); err != nil {
			return nil, err
		}
		data[i] = d
	}
	v1, m2, v2 := data[0], data[1], data[2]

	if err := positive(v1, "var1"); err != nil {
		return nil, err
	}
	if err := positive(v2, "var2"); err != nil {
		return nil, err
	}

	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := 0; c < cols; c++ {
			i := r*cols + c
			d := m1[i] - m2[i]
			sum += math.Log(v2[i]) - math.Log(v1[i]) + (v1[i]+d*d)/v2[i] - 1
		}
		out[r] = 0.5 * sum
	}
	return out, nil
}

func sameMatrixShape(want, got tensor.Shape, name string) error {
	if len(want) != 2 {
		return &ArgumentError{Arg: "mean", Reason: fmt.Sprintf("must be [batch, dim], got shape %v", want)}
	}
	if !want.Eq(got) {
		return &ArgumentError{Arg: name, Reason: fmt.Sprintf("shape %v does not match mean shape %v", got, want)}
	}
	return nil
}

func matrixData(t tensor.Tensor, name string) ([]float64, int, int, error) {
	if t == nil {
		return nil, 0, 0, &ArgumentError{Arg: name, Reason: "is nil"}
	}
	s := t.Shape()
	if len(s) != 2 {
		return nil, 0, 0, &ArgumentError{Arg: name, Reason: fmt.Sprintf("must be [batch, dim], got shape %v", s)}
	}
	data, ok := t.Data().([]float64)
	if !ok || len(data) != s[0]*s[1] {
		return nil, 0, 0, &ArgumentError{Arg: name, Reason: fmt.Sprintf("must be a dense float64 tensor, got %v %T", t.Dtype(), t.Data())}
	}
	return data, s[0], s[1], nil
}

func positive(data []float64, name string) error {
	for i, v := range data {
		if !(v > 0) || math.IsInf(v, 1) {
			return &DomainError{Arg: name, Index: i, Value: v}
		}
	}
	return nil
}
