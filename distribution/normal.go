package distribution

import (
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/CraigKelly/vinfer/rand"
)

// NormalConfig describes a conditional diagonal Gaussian q(Var | CondVars)
type NormalConfig struct {
	Var      string   // Generated variable
	CondVars []string // Conditioning variables, concatenated in this order
	InputDim int      // Total width of the conditioning variables
	Hidden   int      // Width of the tanh hidden layer
	Dim      int      // Width of Var

	// Source draws initial weights and reparameterization noise. Required.
	Source *rand.Generator

	// DeterministicEval makes Sample return the mean in Evaluation mode
	DeterministicEval bool
}

func (c NormalConfig) check() error {
	if len(c.Var) < 1 {
		return errors.New("Normal needs a variable name")
	}
	if len(c.CondVars) < 1 {
		return errors.Errorf("Normal %s needs at least one conditioning variable", c.Var)
	}
	if c.InputDim < 1 || c.Hidden < 1 || c.Dim < 1 {
		return errors.Errorf("Normal %s has invalid sizes in=%d hidden=%d dim=%d", c.Var, c.InputDim, c.Hidden, c.Dim)
	}
	if c.Source == nil {
		return errors.Errorf("Normal %s needs a random source", c.Var)
	}
	return nil
}

// Normal is N(Var | mu(CondVars), diag(var(CondVars))) where mu and the
// log-variance come from a one hidden layer network
type Normal struct {
	cfg    NormalConfig
	prefix string
	mode   Mode

	hidden *dense
	mean   *dense
	logVar *dense

	noise noiseSet
}

// NewNormal adds the network parameters of a new Normal to g
func NewNormal(g *G.ExprGraph, cfg NormalConfig) (*Normal, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	prefix := "q_" + cfg.Var + "_" + strings.Join(cfg.CondVars, "_")
	n := &Normal{
		cfg:    cfg,
		prefix: prefix,
		mode:   Training,
		hidden: newDense(g, prefix+"_h", cfg.InputDim, cfg.Hidden, G.Tanh, cfg.Source),
		mean:   newDense(g, prefix+"_mu", cfg.Hidden, cfg.Dim, nil, cfg.Source),
		logVar: newDense(g, prefix+"_lv", cfg.Hidden, cfg.Dim, nil, cfg.Source),
		noise:  noiseSet{gen: cfg.Source},
	}
	return n, nil
}

// Name implements Distribution
func (n *Normal) Name() string { return NormalName }

// Vars implements Distribution
func (n *Normal) Vars() []string { return []string{n.cfg.Var} }

// CondVars implements Distribution
func (n *Normal) CondVars() []string { return n.cfg.CondVars }

// SetMode implements Distribution
func (n *Normal) SetMode(m Mode) { n.mode = m }

// Mode implements Distribution
func (n *Normal) Mode() Mode { return n.mode }

// Parameters implements Distribution
func (n *Normal) Parameters() G.Nodes {
	var ps G.Nodes
	ps = append(ps, n.hidden.params()...)
	ps = append(ps, n.mean.params()...)
	ps = append(ps, n.logVar.params()...)
	return ps
}

// Forward returns the mean and variance for the given conditioning inputs,
// which must be in CondVars order
func (n *Normal) Forward(inputs ...*G.Node) (*G.Node, *G.Node, error) {
	x, err := concatInputs(n.cfg.InputDim, inputs...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Normal %s forward", n.cfg.Var)
	}

	h, err := n.hidden.fwd(x)
	if err != nil {
		return nil, nil, err
	}
	mu, err := n.mean.fwd(h)
	if err != nil {
		return nil, nil, err
	}
	lv, err := n.logVar.fwd(h)
	if err != nil {
		return nil, nil, err
	}
	variance, err := G.Exp(lv)
	if err != nil {
		return nil, nil, err
	}

	return mu, variance, nil
}

// Sample implements Distribution with the reparameterization trick:
// mu + sqrt(var) * eps, eps ~ N(0, I) redrawn by Refresh
func (n *Normal) Sample(given Observation) (Observation, error) {
	inputs, err := given.Values(n.cfg.CondVars...)
	if err != nil {
		return nil, err
	}

	mu, variance, err := n.Forward(inputs...)
	if err != nil {
		return nil, err
	}

	batch := mu.Shape()[0]
	eps := n.noise.add(mu.Graph(), n.prefix, gaussianNoise, batch, n.cfg.Dim)

	z := G.Must(G.Sqrt(variance))
	z = G.Must(G.HadamardProd(z, eps.node))
	z = G.Must(G.Add(mu, z))

	return given.Merge(Observation{n.cfg.Var: z}), nil
}

// LogLikelihood implements Distribution
func (n *Normal) LogLikelihood(samples Observation) (*G.Node, error) {
	x, err := samples.Values(n.cfg.Var)
	if err != nil {
		return nil, err
	}
	inputs, err := samples.Values(n.cfg.CondVars...)
	if err != nil {
		return nil, err
	}

	mu, variance, err := n.Forward(inputs...)
	if err != nil {
		return nil, err
	}

	return diagGaussLogDensity(x[0], mu, variance)
}

// Refresh implements Refresher
func (n *Normal) Refresh() error {
	return n.noise.refresh(n.cfg.DeterministicEval && n.mode == Evaluation)
}
