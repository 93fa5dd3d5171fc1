// Package vi trains a generative model p and an approximate posterior q by
// maximizing the evidence lower bound (ELBO).
package vi

import (
	"fmt"
	"io/ioutil"
	"log"
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/distribution"
	"github.com/CraigKelly/vinfer/kl"
	"github.com/CraigKelly/vinfer/optim"
)

// Batch holds the concrete values for one step, keyed by input name. Every
// input the trainer was built with must be present with its exact shape.
type Batch map[string]tensor.Tensor

// Result is the outcome of one Train or Test call
type Result struct {
	LowerBound []float64 // Per sample ELBO
	Loss       float64   // -mean(LowerBound)
}

// Option configures a Trainer
type Option func(*Trainer)

// WithAnalyticKL replaces the sampled log q term of the bound with a closed
// form: lower bound = log p(samples) - KL(q || prior). p is then the
// likelihood alone.
func WithAnalyticKL(est *kl.Estimator, prior distribution.Distribution) Option {
	return func(t *Trainer) {
		t.klEst = est
		t.prior = prior
	}
}

// WithLogger sets the logger used for trace output
func WithLogger(l *log.Logger) Option {
	return func(t *Trainer) {
		t.log = l
	}
}

// Trainer runs variational inference steps. The ELBO graph is built once at
// construction, so the batch size is fixed by the input placeholders. A
// Trainer is not safe for concurrent use.
type Trainer struct {
	p, q   distribution.Distribution
	inputs distribution.Observation
	prior  distribution.Distribution
	klEst  *kl.Estimator
	log    *log.Logger

	optimizer optim.Optimizer

	lowerBound *G.Node
	loss       *G.Node

	trainVM G.VM
	evalVM  G.VM
}

// New builds the ELBO graph for p and q over the input placeholders and binds
// a fresh optimizer to q's parameters followed by p's.
func New(p, q distribution.Distribution, inputs distribution.Observation, factory optim.Factory, cfg optim.Config, opts ...Option) (*Trainer, error) {
	if p == nil || q == nil {
		return nil, errors.New("Both p and q are required")
	}
	if factory == nil {
		return nil, errors.New("No optimizer factory supplied")
	}
	if len(inputs) < 1 {
		return nil, errors.New("No input placeholders supplied")
	}

	t := &Trainer{
		p:      p,
		q:      q,
		inputs: inputs,
		log:    log.New(ioutil.Discard, "", 0),
	}
	for _, o := range opts {
		o(t)
	}
	if t.prior != nil && t.klEst == nil {
		t.klEst = kl.NewEstimator()
	}

	var params G.Nodes
	params = append(params, q.Parameters()...)
	params = append(params, p.Parameters()...)

	var err error
	t.optimizer, err = factory(params, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Could not create optimizer")
	}

	t.lowerBound, t.loss, err = t.elbo()
	if err != nil {
		return nil, err
	}

	if _, err = G.Grad(t.loss, params...); err != nil {
		return nil, errors.Wrap(err, "Could not differentiate the loss")
	}

	// The eval machine only sees the sub-graph the bound needs, so no
	// gradient nodes are ever run in Test
	g := t.loss.Graph()
	t.trainVM = G.NewTapeMachine(g, G.BindDualValues(params...))
	t.evalVM = G.NewTapeMachine(g.SubgraphRoots(t.lowerBound, t.loss))

	t.log.Printf("vi: built ELBO over inputs %v with %d parameter nodes (q=%s, p=%s, analytic KL=%v)\n",
		inputs.Names(), len(params), q.Name(), p.Name(), t.prior != nil)

	return t, nil
}

// elbo builds the per sample lower bound and the scalar loss. Errors from p
// and q are returned unchanged.
func (t *Trainer) elbo() (*G.Node, *G.Node, error) {
	samples, err := t.q.Sample(t.inputs)
	if err != nil {
		return nil, nil, err
	}

	logP, err := t.p.LogLikelihood(samples)
	if err != nil {
		return nil, nil, err
	}

	var penalty *G.Node
	if t.prior != nil {
		penalty, err = t.klEst.Analytical(t.q, t.prior, []distribution.Observation{t.inputs, t.inputs})
	} else {
		penalty, err = t.q.LogLikelihood(samples)
	}
	if err != nil {
		return nil, nil, err
	}

	lowerBound, err := G.Sub(logP, penalty)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Lower bound shapes %v and %v", logP.Shape(), penalty.Shape())
	}
	if s := lowerBound.Shape(); len(s) != 1 {
		return nil, nil, errors.Errorf("Lower bound must be a [batch] vector, got shape %v", s)
	}

	loss := G.Must(G.Mean(lowerBound))
	loss = G.Must(G.Neg(loss))

	return lowerBound, loss, nil
}

// Optimizer returns the optimizer bound at construction
func (t *Trainer) Optimizer() optim.Optimizer {
	return t.optimizer
}

// Train runs one optimization step on batch and returns the bound computed
// before the update. Parameters are only changed when every part of the step
// succeeds.
func (t *Trainer) Train(batch Batch) (*Result, error) {
	t.p.SetMode(distribution.Training)
	t.q.SetMode(distribution.Training)

	if err := t.prepare(batch); err != nil {
		return nil, err
	}

	t.optimizer.ZeroGrad()

	defer t.trainVM.Reset()
	if err := t.trainVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Forward/backward pass failed")
	}

	res, err := t.result()
	if err != nil {
		return nil, err
	}

	if err := t.optimizer.Step(); err != nil {
		return nil, err
	}

	return res, nil
}

// Test evaluates the bound on batch without computing gradients. It never
// changes parameters or optimizer state.
func (t *Trainer) Test(batch Batch) (*Result, error) {
	t.p.SetMode(distribution.Evaluation)
	t.q.SetMode(distribution.Evaluation)

	if err := t.prepare(batch); err != nil {
		return nil, err
	}

	defer t.evalVM.Reset()
	if err := t.evalVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Evaluation pass failed")
	}

	return t.result()
}

// Close releases the machines
func (t *Trainer) Close() error {
	err1 := t.trainVM.Close()
	err2 := t.evalVM.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// prepare binds the batch and redraws all noise
func (t *Trainer) prepare(batch Batch) error {
	if err := t.bind(batch); err != nil {
		return err
	}

	dists := []distribution.Distribution{t.q, t.p}
	if t.prior != nil {
		dists = append(dists, t.prior)
	}
	return distribution.Refresh(dists...)
}

// bind checks every value before letting any of them
func (t *Trainer) bind(batch Batch) error {
	for name := range batch {
		if _, ok := t.inputs[name]; !ok {
			return &BatchError{Input: name, Reason: "is not an input of this trainer"}
		}
	}
	for name, n := range t.inputs {
		v, ok := batch[name]
		if !ok || v == nil {
			return &BatchError{Input: name, Reason: "is missing"}
		}
		if !v.Shape().Eq(n.Shape()) {
			return &BatchError{Input: name, Reason: fmt.Sprintf("has shape %v, expected %v", v.Shape(), n.Shape())}
		}
		if v.Dtype() != n.Dtype() {
			return &BatchError{Input: name, Reason: fmt.Sprintf("has type %v, expected %v", v.Dtype(), n.Dtype())}
		}
	}

	for name, n := range t.inputs {
		if err := G.Let(n, batch[name]); err != nil {
			return errors.Wrapf(err, "Could not bind input %s", name)
		}
	}
	return nil
}

// result copies the bound out of the graph and checks it is finite
func (t *Trainer) result() (*Result, error) {
	lb, err := floats(t.lowerBound.Value())
	if err != nil {
		return nil, errors.Wrap(err, "Reading lower bound")
	}
	loss, err := scalar(t.loss.Value())
	if err != nil {
		return nil, errors.Wrap(err, "Reading loss")
	}

	for i, v := range lb {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &kl.DomainError{Arg: "lower bound", Index: i, Value: v}
		}
	}

	return &Result{LowerBound: lb, Loss: loss}, nil
}

func floats(v G.Value) ([]float64, error) {
	if v == nil {
		return nil, errors.New("no value computed")
	}
	switch d := v.Data().(type) {
	case []float64:
		out := make([]float64, len(d))
		copy(out, d)
		return out, nil
	case float64:
		return []float64{d}, nil
	}
	return nil, errors.Errorf("expected float64 data, got %T", v.Data())
}

func scalar(v G.Value) (float64, error) {
	fs, err := floats(v)
	if err != nil {
		return 0, err
	}
	if len(fs) != 1 {
		return 0, errors.Errorf("expected a scalar, got %d values", len(fs))
	}
	return fs[0], nil
}
