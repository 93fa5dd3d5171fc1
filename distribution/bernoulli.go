package distribution

import (
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/CraigKelly/vinfer/rand"
)

// BernoulliConfig describes a conditional factorized Bernoulli p(Var | CondVars)
type BernoulliConfig struct {
	Var      string
	CondVars []string
	InputDim int
	Hidden   int
	Dim      int
	Source   *rand.Generator
}

// Bernoulli is a product of independent Bernoulli variables whose logits come
// from a one hidden layer network. Usually the likelihood p(x | z) of a
// model over binary data.
type Bernoulli struct {
	cfg    BernoulliConfig
	prefix string
	mode   Mode

	hidden *dense
	logits *dense

	noise noiseSet
}

// NewBernoulli adds the network parameters of a new Bernoulli to g
func NewBernoulli(g *G.ExprGraph, cfg BernoulliConfig) (*Bernoulli, error) {
	if len(cfg.Var) < 1 || len(cfg.CondVars) < 1 {
		return nil, errors.Errorf("Bernoulli needs a variable (%q) and conditioning variables (%v)", cfg.Var, cfg.CondVars)
	}
	if cfg.InputDim < 1 || cfg.Hidden < 1 || cfg.Dim < 1 {
		return nil, errors.Errorf("Bernoulli %s has invalid sizes in=%d hidden=%d dim=%d", cfg.Var, cfg.InputDim, cfg.Hidden, cfg.Dim)
	}
	if cfg.Source == nil {
		return nil, errors.Errorf("Bernoulli %s needs a random source", cfg.Var)
	}

	prefix := "p_" + cfg.Var + "_" + strings.Join(cfg.CondVars, "_")
	return &Bernoulli{
		cfg:    cfg,
		prefix: prefix,
		hidden: newDense(g, prefix+"_h", cfg.InputDim, cfg.Hidden, G.Tanh, cfg.Source),
		logits: newDense(g, prefix+"_l", cfg.Hidden, cfg.Dim, nil, cfg.Source),
		noise:  noiseSet{gen: cfg.Source},
	}, nil
}

// Name implements Distribution
func (b *Bernoulli) Name() string { return BernoulliName }

// Vars implements Distribution
func (b *Bernoulli) Vars() []string { return []string{b.cfg.Var} }

// CondVars implements Distribution
func (b *Bernoulli) CondVars() []string { return b.cfg.CondVars }

// SetMode implements Distribution
func (b *Bernoulli) SetMode(m Mode) { b.mode = m }

// Mode implements Distribution
func (b *Bernoulli) Mode() Mode { return b.mode }

// Parameters implements Distribution
func (b *Bernoulli) Parameters() G.Nodes {
	return append(b.hidden.params(), b.logits.params()...)
}

// Logits returns the [batch, dim] logits for the conditioning inputs
func (b *Bernoulli) Logits(inputs ...*G.Node) (*G.Node, error) {
	x, err := concatInputs(b.cfg.InputDim, inputs...)
	if err != nil {
		return nil, errors.Wrapf(err, "Bernoulli %s forward", b.cfg.Var)
	}
	h, err := b.hidden.fwd(x)
	if err != nil {
		return nil, err
	}
	return b.logits.fwd(h)
}

// Sample implements Distribution. Bernoulli draws are not differentiable:
// the sample is (sign(p - u) + 1) / 2 with u ~ U[0, 1).
func (b *Bernoulli) Sample(given Observation) (Observation, error) {
	inputs, err := given.Values(b.cfg.CondVars...)
	if err != nil {
		return nil, err
	}
	l, err := b.Logits(inputs...)
	if err != nil {
		return nil, err
	}

	g := l.Graph()
	half := g.Constant(G.NewF64(0.5))
	one := g.Constant(G.NewF64(1.0))
	u := b.noise.add(g, b.prefix, uniformNoise, l.Shape()[0], b.cfg.Dim)

	x := G.Must(G.Sigmoid(l))
	x = G.Must(G.Sub(x, u.node))
	x = G.Must(G.Sign(x))
	x = G.Must(G.Add(x, one))
	x = G.Must(G.HadamardProd(half, x))

	return given.Merge(Observation{b.cfg.Var: x}), nil
}

// LogLikelihood implements Distribution: Σ_d x·l − softplus(l), with
// softplus(l) = max(l, 0) + log(1 + exp(−|l|)) for stability
func (b *Bernoulli) LogLikelihood(samples Observation) (*G.Node, error) {
	xs, err := samples.Values(b.cfg.Var)
	if err != nil {
		return nil, err
	}
	inputs, err := samples.Values(b.cfg.CondVars...)
	if err != nil {
		return nil, err
	}
	l, err := b.Logits(inputs...)
	if err != nil {
		return nil, err
	}

	x := xs[0]
	if !x.Shape().Eq(l.Shape()) {
		return nil, errors.Errorf("Bernoulli %s: observed shape %v, logits shape %v", b.cfg.Var, x.Shape(), l.Shape())
	}

	softplus := G.Must(G.Abs(l))
	softplus = G.Must(G.Neg(softplus))
	softplus = G.Must(G.Exp(softplus))
	softplus = G.Must(G.Log1p(softplus))
	softplus = G.Must(G.Add(softplus, G.Must(G.Rectify(l))))

	ll := G.Must(G.HadamardProd(x, l))
	ll = G.Must(G.Sub(ll, softplus))
	return G.Sum(ll, 1)
}

// Refresh implements Refresher
func (b *Bernoulli) Refresh() error {
	return b.noise.refresh(false)
}
