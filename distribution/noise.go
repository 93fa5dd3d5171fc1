package distribution

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/rand"
)

type noiseKind int

const (
	gaussianNoise noiseKind = iota
	uniformNoise
)

// noise is a placeholder whose value is redrawn before every graph run
type noise struct {
	node  *G.Node
	value *tensor.Dense
	kind  noiseKind
}

// noiseSet tracks every noise placeholder a distribution has added to a graph
type noiseSet struct {
	gen   *rand.Generator
	items []*noise
}

// add creates a new [batch, dim] placeholder. Node names must be unique or
// the graph would merge identical placeholders.
func (s *noiseSet) add(g *G.ExprGraph, prefix string, kind noiseKind, batch, dim int) *noise {
	value := tensor.New(tensor.WithShape(batch, dim), tensor.WithBacking(make([]float64, batch*dim)))
	n := &noise{
		node: G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, dim),
			G.WithName(fmt.Sprintf("%s_noise%d", prefix, len(s.items))),
			G.WithValue(value),
		),
		value: value,
		kind:  kind,
	}
	s.items = append(s.items, n)
	return n
}

// refresh redraws all placeholders; zero leaves them at 0 instead
func (s *noiseSet) refresh(zero bool) error {
	for _, n := range s.items {
		data := n.value.Float64s()
		switch {
		case zero:
			for i := range data {
				data[i] = 0
			}
		case n.kind == gaussianNoise:
			s.gen.FillNormal(data)
		default:
			for i := range data {
				data[i] = s.gen.Float64()
			}
		}

		if err := G.Let(n.node, n.value); err != nil {
			return errors.Wrapf(err, "Could not bind noise %s", n.node.Name())
		}
	}
	return nil
}
