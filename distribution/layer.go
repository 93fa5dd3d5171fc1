package distribution

import (
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/rand"
)

type activation func(*G.Node) (*G.Node, error)

// dense is a fully connected layer: act(x·W + b)
type dense struct {
	w   *G.Node // [in, out]
	b   *G.Node // [1, out], broadcast over the batch
	act activation
}

// newDense creates a layer with Glorot-uniform weights drawn from gen and
// zero bias
func newDense(g *G.ExprGraph, name string, in, out int, act activation, gen *rand.Generator) *dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	wBack := make([]float64, in*out)
	for i := range wBack {
		wBack[i] = (2.0*gen.Float64() - 1.0) * limit
	}

	w := G.NewMatrix(g, tensor.Float64,
		G.WithShape(in, out),
		G.WithName(name+"_w"),
		G.WithValue(tensor.New(tensor.WithShape(in, out), tensor.WithBacking(wBack))),
	)
	b := G.NewMatrix(g, tensor.Float64,
		G.WithShape(1, out),
		G.WithName(name+"_b"),
		G.WithInit(G.Zeroes()),
	)

	return &dense{w: w, b: b, act: act}
}

func (l *dense) fwd(x *G.Node) (*G.Node, error) {
	xw, err := G.Mul(x, l.w)
	if err != nil {
		return nil, errors.Wrapf(err, "Layer %s: x %v · W %v", l.w.Name(), x.Shape(), l.w.Shape())
	}

	out, err := G.BroadcastAdd(xw, l.b, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Layer %s: bias", l.w.Name())
	}

	if l.act == nil {
		return out, nil
	}
	return l.act(out)
}

func (l *dense) params() G.Nodes {
	return G.Nodes{l.w, l.b}
}

// concatInputs joins the conditioning inputs along the feature axis and
// checks the total width
func concatInputs(width int, inputs ...*G.Node) (*G.Node, error) {
	if len(inputs) < 1 {
		return nil, errors.New("No inputs supplied")
	}

	total := 0
	for i, in := range inputs {
		_, w, err := batchShape(in, "input")
		if err != nil {
			return nil, errors.Wrapf(err, "Input %d", i)
		}
		total += w
	}
	if total != width {
		return nil, errors.Errorf("Inputs have total width %d, expected %d", total, width)
	}

	if len(inputs) == 1 {
		return inputs[0], nil
	}
	return G.Concat(1, inputs...)
}
