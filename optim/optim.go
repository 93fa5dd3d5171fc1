// Package optim binds gorgonia solvers to a fixed list of trainable
// parameters.
package optim

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Optimizer updates a fixed set of parameters from their gradients
type Optimizer interface {
	// ZeroGrad clears the accumulated gradients of the parameters
	ZeroGrad()

	// Step applies one update using the current gradients
	Step() error

	// Parameters are the nodes bound at construction, in order
	Parameters() G.Nodes
}

// Config holds the recognized optimizer options. A zero field means the
// solver's own default. Options a solver does not use are ignored.
type Config struct {
	LearnRate float64 // all solvers
	BatchSize float64 // gradient scaling, all solvers
	L2        float64 // L2 regularization, all solvers
	Clip      float64 // gradient clipping, all solvers
	Beta1     float64 // Adam
	Beta2     float64 // Adam
	Eps       float64 // Adam, RMSProp
	Rho       float64 // RMSProp decay
	Momentum  float64 // Momentum
}

// Validate rejects option values no solver can use
func (c Config) Validate() error {
	vals := []struct {
		name string
		v    float64
	}{
		{"LearnRate", c.LearnRate}, {"BatchSize", c.BatchSize}, {"L2", c.L2}, {"Clip", c.Clip},
		{"Beta1", c.Beta1}, {"Beta2", c.Beta2}, {"Eps", c.Eps}, {"Rho", c.Rho}, {"Momentum", c.Momentum},
	}
	for _, o := range vals {
		if o.v < 0 {
			return errors.Errorf("Optimizer option %s must not be negative, got %v", o.name, o.v)
		}
	}
	if c.Beta1 >= 1 || c.Beta2 >= 1 {
		return errors.Errorf("Adam betas must be in [0, 1), got %v and %v", c.Beta1, c.Beta2)
	}
	if c.Rho >= 1 || c.Momentum >= 1 {
		return errors.Errorf("Rho and Momentum must be in [0, 1), got %v and %v", c.Rho, c.Momentum)
	}
	return nil
}

// common are the options every gorgonia solver understands
func (c Config) common() []G.SolverOpt {
	var opts []G.SolverOpt
	if c.LearnRate > 0 {
		opts = append(opts, G.WithLearnRate(c.LearnRate))
	}
	if c.BatchSize > 0 {
		opts = append(opts, G.WithBatchSize(c.BatchSize))
	}
	if c.L2 > 0 {
		opts = append(opts, G.WithL2Reg(c.L2))
	}
	if c.Clip > 0 {
		opts = append(opts, G.WithClip(c.Clip))
	}
	return opts
}

// Factory creates an Optimizer bound to params
type Factory func(params G.Nodes, cfg Config) (Optimizer, error)

// Adam is the default factory
func Adam(params G.Nodes, cfg Config) (Optimizer, error) {
	opts := cfg.common()
	if cfg.Beta1 > 0 {
		opts = append(opts, G.WithBeta1(cfg.Beta1))
	}
	if cfg.Beta2 > 0 {
		opts = append(opts, G.WithBeta2(cfg.Beta2))
	}
	if cfg.Eps > 0 {
		opts = append(opts, G.WithEps(cfg.Eps))
	}
	return newSolverOptimizer("adam", params, cfg, func() G.Solver { return G.NewAdamSolver(opts...) })
}

// SGD is plain gradient descent
func SGD(params G.Nodes, cfg Config) (Optimizer, error) {
	opts := cfg.common()
	return newSolverOptimizer("sgd", params, cfg, func() G.Solver { return G.NewVanillaSolver(opts...) })
}

// RMSProp scales steps by a running average of squared gradients
func RMSProp(params G.Nodes, cfg Config) (Optimizer, error) {
	opts := cfg.common()
	if cfg.Eps > 0 {
		opts = append(opts, G.WithEps(cfg.Eps))
	}
	if cfg.Rho > 0 {
		opts = append(opts, G.WithRho(cfg.Rho))
	}
	return newSolverOptimizer("rmsprop", params, cfg, func() G.Solver { return G.NewRMSPropSolver(opts...) })
}

// Momentum is gradient descent with momentum
func Momentum(params G.Nodes, cfg Config) (Optimizer, error) {
	opts := cfg.common()
	if cfg.Momentum > 0 {
		opts = append(opts, G.WithMomentum(cfg.Momentum))
	}
	return newSolverOptimizer("momentum", params, cfg, func() G.Solver { return G.NewMomentum(opts...) })
}

var factories = map[string]Factory{
	"adam":     Adam,
	"sgd":      SGD,
	"rmsprop":  RMSProp,
	"momentum": Momentum,
}

// Lookup returns the factory registered under name (case insensitive)
func Lookup(name string) (Factory, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("Unknown optimizer %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists the known optimizer names, sorted
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// solverOptimizer adapts a gorgonia Solver to Optimizer
type solverOptimizer struct {
	name   string
	params G.Nodes
	solver G.Solver
}

func newSolverOptimizer(name string, params G.Nodes, cfg Config, mk func() G.Solver) (Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Invalid %s config", name)
	}
	if len(params) < 1 {
		return nil, errors.Errorf("Optimizer %s has no parameters to train", name)
	}

	// The parameter list is fixed from here on
	ps := make(G.Nodes, len(params))
	copy(ps, params)

	return &solverOptimizer{name: name, params: ps, solver: mk()}, nil
}

func (o *solverOptimizer) Parameters() G.Nodes {
	return o.params
}

// ZeroGrad zeroes the gradient half of each parameter's dual value. Parameters
// that have never been run have no gradient yet and are skipped.
func (o *solverOptimizer) ZeroGrad() {
	for _, p := range o.params {
		grad, err := p.Grad()
		if err != nil || grad == nil {
			continue
		}
		if z, ok := grad.(interface{ Zero() }); ok {
			z.Zero()
		}
	}
}

func (o *solverOptimizer) Step() error {
	if err := o.solver.Step(G.NodesToValueGrads(o.params)); err != nil {
		return errors.Wrapf(err, "%s step failed", o.name)
	}
	return nil
}
