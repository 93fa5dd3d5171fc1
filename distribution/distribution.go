// Package distribution provides the probability distributions consumed by
// the variational inference trainer.
//
// Distributions are expressed as gorgonia graph builders: Sample and
// LogLikelihood add nodes to the graph that owns the distribution's
// parameters, keyed by variable name through an Observation. The graph is
// built once and then run many times, so anything random (reparameterization
// noise) lives in placeholder nodes that are redrawn by Refresh before each
// run.
package distribution

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Distribution names used for closed-form KL dispatch
const (
	NormalName     = "Normal"
	UnitNormalName = "UnitNormal"
	BernoulliName  = "Bernoulli"
	JointName      = "Joint"
)

var logTwoPi = math.Log(2 * math.Pi)

// Mode is the behavior mode a distribution runs in
type Mode int

// Training is the default; Evaluation is set for scoring held out data
const (
	Training Mode = iota
	Evaluation
)

func (m Mode) String() string {
	switch m {
	case Training:
		return "Training"
	case Evaluation:
		return "Evaluation"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Distribution is a (possibly conditional) parametric distribution over one or
// more named variables.
type Distribution interface {
	// Name is the distribution family tag, e.g. "Normal"
	Name() string

	// Vars are the variables this distribution generates
	Vars() []string

	// CondVars are the variables this distribution is conditioned on, in the
	// order they are fed to the network
	CondVars() []string

	// Parameters are the trainable nodes
	Parameters() G.Nodes

	SetMode(Mode)
	Mode() Mode

	// Sample returns given plus reparameterized samples of Vars. The
	// samples are differentiable with respect to Parameters.
	Sample(given Observation) (Observation, error)

	// LogLikelihood returns a [batch] node with log p(Vars | CondVars) for
	// each row of the batch. samples must contain Vars and CondVars.
	LogLikelihood(samples Observation) (*G.Node, error)
}

// Gaussian is a distribution whose parameters for a batch can be computed
// directly. Forward returns the mean and the VARIANCE (not the standard
// deviation), both [batch, dim].
type Gaussian interface {
	Distribution
	Forward(inputs ...*G.Node) (mean, variance *G.Node, err error)
}

// Refresher is implemented by distributions that keep noise placeholders in
// the graph. Refresh must be called before every run of the graph.
type Refresher interface {
	Refresh() error
}

// Observation maps variable names to [batch, width] graph nodes
type Observation map[string]*G.Node

// Values returns the nodes for keys, in order. It fails on the first key that
// is not present.
func (o Observation) Values(keys ...string) ([]*G.Node, error) {
	vals := make([]*G.Node, len(keys))
	for i, k := range keys {
		n, ok := o[k]
		if !ok || n == nil {
			return nil, errors.Errorf("Observation has no variable %q (have %v)", k, o.Names())
		}
		vals[i] = n
	}
	return vals, nil
}

// Merge returns a new observation with the entries of o and then other
// (other wins on duplicate names)
func (o Observation) Merge(other Observation) Observation {
	out := make(Observation, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Names returns the variable names, sorted
func (o Observation) Names() []string {
	names := make([]string, 0, len(o))
	for k := range o {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// NewInput creates a [batch, width] float64 placeholder named name. Its value
// must be bound with G.Let before the graph is run.
func NewInput(g *G.ExprGraph, name string, batch, width int) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(batch, width), G.WithName(name))
}

// Refresh calls Refresh on every distribution that keeps noise
func Refresh(dists ...Distribution) error {
	for _, d := range dists {
		if r, ok := d.(Refresher); ok {
			if err := r.Refresh(); err != nil {
				return errors.Wrapf(err, "Could not refresh noise for %s", d.Name())
			}
		}
	}
	return nil
}

// batchShape checks n is a [batch, width] matrix and returns the dims
func batchShape(n *G.Node, what string) (int, int, error) {
	s := n.Shape()
	if len(s) != 2 {
		return 0, 0, errors.Errorf("%s must be [batch, width], got shape %v", what, s)
	}
	return s[0], s[1], nil
}

// diagGaussLogDensity is log N(x | mu, diag(variance)) summed over dim 1
func diagGaussLogDensity(x, mu, variance *G.Node) (*G.Node, error) {
	if !x.Shape().Eq(mu.Shape()) || !x.Shape().Eq(variance.Shape()) {
		return nil, errors.Errorf("Shape mismatch: x %v, mean %v, variance %v", x.Shape(), mu.Shape(), variance.Shape())
	}

	g := x.Graph()
	negHalf := g.Constant(G.NewF64(-0.5))
	c := g.Constant(G.NewF64(logTwoPi))

	d := G.Must(G.Sub(x, mu))
	d = G.Must(G.Square(d))
	d = G.Must(G.HadamardDiv(d, variance))
	d = G.Must(G.Add(d, G.Must(G.Log(variance))))
	d = G.Must(G.Add(d, c))
	d = G.Must(G.Sum(d, 1))
	return G.HadamardProd(negHalf, d)
}
