package distribution

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/CraigKelly/vinfer/rand"
)

// UnitNormal is the parameter free prior N(Var | 0, I)
type UnitNormal struct {
	v     string
	batch int
	dim   int
	mode  Mode
	noise noiseSet
}

// NewUnitNormal returns a standard normal prior over a [batch, dim] variable.
// gen is only used by Sample.
func NewUnitNormal(v string, batch, dim int, gen *rand.Generator) (*UnitNormal, error) {
	if len(v) < 1 {
		return nil, errors.New("UnitNormal needs a variable name")
	}
	if batch < 1 || dim < 1 {
		return nil, errors.Errorf("UnitNormal %s has invalid shape %dx%d", v, batch, dim)
	}
	if gen == nil {
		return nil, errors.Errorf("UnitNormal %s needs a random source", v)
	}

	return &UnitNormal{
		v:     v,
		batch: batch,
		dim:   dim,
		noise: noiseSet{gen: gen},
	}, nil
}

// Name implements Distribution
func (u *UnitNormal) Name() string { return UnitNormalName }

// Vars implements Distribution
func (u *UnitNormal) Vars() []string { return []string{u.v} }

// CondVars implements Distribution
func (u *UnitNormal) CondVars() []string { return nil }

// Parameters implements Distribution
func (u *UnitNormal) Parameters() G.Nodes { return nil }

// SetMode implements Distribution
func (u *UnitNormal) SetMode(m Mode) { u.mode = m }

// Mode implements Distribution
func (u *UnitNormal) Mode() Mode { return u.mode }

// Sample implements Distribution. The graph is taken from any node in given,
// so given must not be empty.
func (u *UnitNormal) Sample(given Observation) (Observation, error) {
	var g *G.ExprGraph
	for _, n := range given {
		if n != nil {
			g = n.Graph()
			break
		}
	}
	if g == nil {
		return nil, errors.Errorf("UnitNormal %s: cannot find a graph in an empty observation", u.v)
	}

	eps := u.noise.add(g, "p_"+u.v, gaussianNoise, u.batch, u.dim)
	return given.Merge(Observation{u.v: eps.node}), nil
}

// LogLikelihood implements Distribution: -0.5 * Σ_d (x² + log 2π)
func (u *UnitNormal) LogLikelihood(samples Observation) (*G.Node, error) {
	xs, err := samples.Values(u.v)
	if err != nil {
		return nil, err
	}
	x := xs[0]

	_, w, err := batchShape(x, u.v)
	if err != nil {
		return nil, err
	}
	if w != u.dim {
		return nil, errors.Errorf("UnitNormal %s expects width %d, got %d", u.v, u.dim, w)
	}

	g := x.Graph()
	negHalf := g.Constant(G.NewF64(-0.5))
	c := g.Constant(G.NewF64(logTwoPi))

	d := G.Must(G.Square(x))
	d = G.Must(G.Add(d, c))
	d = G.Must(G.Sum(d, 1))
	return G.HadamardProd(negHalf, d)
}

// Refresh implements Refresher
func (u *UnitNormal) Refresh() error {
	return u.noise.refresh(false)
}
