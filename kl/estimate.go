// Package kl computes closed-form KL divergences between distributions.
//
// Formulas are registered per (q1 name, q2 name) pair. The stock estimator
// knows Normal vs UnitNormal and Normal vs Normal. Everything here works on
// diagonal Gaussians described by their mean and VARIANCE.
package kl

import (
	"fmt"
	"sync"

	G "gorgonia.org/gorgonia"

	"github.com/CraigKelly/vinfer/distribution"
)

// Formula builds the [batch] node KL(q1 || q2). x1 holds q1's conditioning
// variables and x2 holds q2's.
type Formula func(q1, q2 distribution.Distribution, x1, x2 distribution.Observation) (*G.Node, error)

type pair struct {
	from, to string
}

// Estimator is a registry of closed-form KL formulas. It is safe for
// concurrent use.
type Estimator struct {
	mu       sync.RWMutex
	formulas map[pair]Formula
}

// NewEstimator returns an estimator with the stock formulas registered
func NewEstimator() *Estimator {
	e := &Estimator{formulas: make(map[pair]Formula)}
	e.Register(distribution.NormalName, distribution.UnitNormalName, normalUnitNormal)
	e.Register(distribution.NormalName, distribution.NormalName, normalNormal)
	return e
}

var defaultEstimator = NewEstimator()

// Analytical uses the shared default estimator, see Estimator.Analytical
func Analytical(q1, q2 distribution.Distribution, given []distribution.Observation) (*G.Node, error) {
	return defaultEstimator.Analytical(q1, q2, given)
}

// Register adds (or replaces) the formula for the pair of distribution names
func (e *Estimator) Register(from, to string, f Formula) {
	if f == nil {
		panic(fmt.Sprintf("kl: nil formula registered for %s and %s", from, to))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.formulas[pair{from, to}] = f
}

// Supports reports whether a formula is registered for the pair
func (e *Estimator) Supports(from, to string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.formulas[pair{from, to}]
	return ok
}

// Analytical returns the [batch] node KL(q1 || q2). given must be the pair
// (x1, x2) of observations for q1 and q2 respectively; any other length is an
// ArgumentError. Unregistered name pairs give an UnsupportedError. Errors from
// the distributions themselves are returned unchanged.
func (e *Estimator) Analytical(q1, q2 distribution.Distribution, given []distribution.Observation) (*G.Node, error) {
	if len(given) != 2 {
		return nil, &ArgumentError{
			Arg:    "given",
			Reason: fmt.Sprintf("must have exactly 2 elements, got %d", len(given)),
		}
	}

	e.mu.RLock()
	f, ok := e.formulas[pair{q1.Name(), q2.Name()}]
	e.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedError{From: q1.Name(), To: q2.Name()}
	}

	return f(q1, q2, given[0], given[1])
}

func asGaussian(q1, q2, d distribution.Distribution) (distribution.Gaussian, error) {
	g, ok := d.(distribution.Gaussian)
	if !ok {
		return nil, &UnsupportedError{
			From:   q1.Name(),
			To:     q2.Name(),
			Reason: fmt.Sprintf("%s (%T) cannot compute its parameters", d.Name(), d),
		}
	}
	return g, nil
}

func normalUnitNormal(q1, q2 distribution.Distribution, x1, x2 distribution.Observation) (*G.Node, error) {
	g1, err := asGaussian(q1, q2, q1)
	if err != nil {
		return nil, err
	}

	inputs, err := x1.Values(q1.CondVars()...)
	if err != nil {
		return nil, err
	}

	mu, variance, err := g1.Forward(inputs...)
	if err != nil {
		return nil, err
	}

	return GaussUnitGauss(mu, variance)
}

func normalNormal(q1, q2 distribution.Distribution, x1, x2 distribution.Observation) (*G.Node, error) {
	g1, err := asGaussian(q1, q2, q1)
	if err != nil {
		return nil, err
	}
	g2, err := asGaussian(q1, q2, q2)
	if err != nil {
		return nil, err
	}

	in1, err := x1.Values(q1.CondVars()...)
	if err != nil {
		return nil, err
	}
	in2, err := x2.Values(q2.CondVars()...)
	if err != nil {
		return nil, err
	}

	mu1, var1, err := g1.Forward(in1...)
	if err != nil {
		return nil, err
	}
	mu2, var2, err := g2.Forward(in2...)
	if err != nil {
		return nil, err
	}

	return GaussGauss(mu1, var1, mu2, var2)
}
