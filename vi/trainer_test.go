package vi

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/distribution"
	"github.com/CraigKelly/vinfer/kl"
	"github.com/CraigKelly/vinfer/optim"
	"github.com/CraigKelly/vinfer/rand"
)

const (
	testBatch  = 4
	testWidth  = 6
	testLatent = 2
	testHidden = 8
)

type vae struct {
	g      *G.ExprGraph
	gen    *rand.Generator
	x      *G.Node
	q      *distribution.Normal
	lik    *distribution.Bernoulli
	prior  *distribution.UnitNormal
	inputs distribution.Observation
}

func newVAE(t *testing.T, seed int64, deterministicEval bool) *vae {
	gen, err := rand.NewGenerator(seed)
	require.NoError(t, err)

	g := G.NewGraph()
	x := distribution.NewInput(g, "x", testBatch, testWidth)

	q, err := distribution.NewNormal(g, distribution.NormalConfig{
		Var:               "z",
		CondVars:          []string{"x"},
		InputDim:          testWidth,
		Hidden:            testHidden,
		Dim:               testLatent,
		Source:            gen,
		DeterministicEval: deterministicEval,
	})
	require.NoError(t, err)

	lik, err := distribution.NewBernoulli(g, distribution.BernoulliConfig{
		Var:      "x",
		CondVars: []string{"z"},
		InputDim: testLatent,
		Hidden:   testHidden,
		Dim:      testWidth,
		Source:   gen,
	})
	require.NoError(t, err)

	prior, err := distribution.NewUnitNormal("z", testBatch, testLatent, gen)
	require.NoError(t, err)

	return &vae{g: g, gen: gen, x: x, q: q, lik: lik, prior: prior, inputs: distribution.Observation{"x": x}}
}

func (v *vae) trainer(t *testing.T, opts ...Option) *Trainer {
	p, err := distribution.NewJoint(v.lik, v.prior)
	require.NoError(t, err)

	tr, err := New(p, v.q, v.inputs, optim.Adam, optim.Config{LearnRate: 0.01}, opts...)
	require.NoError(t, err)
	return tr
}

func testBatchData() Batch {
	data := []float64{
		1, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 1,
		1, 1, 1, 0, 0, 0,
		0, 0, 0, 1, 1, 1,
	}
	return Batch{"x": tensor.New(tensor.WithShape(testBatch, testWidth), tensor.WithBacking(data))}
}

func snapshot(tr *Trainer) [][]float64 {
	var out [][]float64
	for _, n := range tr.Optimizer().Parameters() {
		data := n.Value().Data().([]float64)
		cp := make([]float64, len(data))
		copy(cp, data)
		out = append(out, cp)
	}
	return out
}

func negMean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return -sum / float64(len(vals))
}

func TestLossIsNegativeMeanBound(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 1, false)
	tr := v.trainer(t)
	defer tr.Close()

	res, err := tr.Train(testBatchData())
	require.NoError(t, err)
	assert.Len(res.LowerBound, testBatch)
	assert.InDelta(negMean(res.LowerBound), res.Loss, 1e-9)

	res, err = tr.Test(testBatchData())
	require.NoError(t, err)
	assert.Len(res.LowerBound, testBatch)
	assert.InDelta(negMean(res.LowerBound), res.Loss, 1e-9)
}

func TestParameterOrder(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 1, false)
	tr := v.trainer(t)
	defer tr.Close()

	params := tr.Optimizer().Parameters()
	qParams := v.q.Parameters()
	pParams := v.lik.Parameters()
	assert.Len(params, len(qParams)+len(pParams))
	assert.Equal(qParams, params[:len(qParams)])
	assert.Equal(pParams, params[len(qParams):])
}

func TestTrainChangesParameters(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 2, false)
	tr := v.trainer(t)
	defer tr.Close()

	before := snapshot(tr)
	_, err := tr.Train(testBatchData())
	require.NoError(t, err)
	after := snapshot(tr)

	changed := false
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				changed = true
			}
		}
	}
	assert.True(changed, "one Train call must move at least one parameter")
	assert.Equal(distribution.Training, v.q.Mode())
}

func TestTestIsRepeatable(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 3, false)
	tr := v.trainer(t)
	defer tr.Close()

	// Train once so the machines have run in both modes
	_, err := tr.Train(testBatchData())
	require.NoError(t, err)

	before := snapshot(tr)

	v.gen.Seed(1234)
	r1, err := tr.Test(testBatchData())
	require.NoError(t, err)

	v.gen.Seed(1234)
	r2, err := tr.Test(testBatchData())
	require.NoError(t, err)

	assert.Equal(r1.LowerBound, r2.LowerBound)
	assert.Equal(r1.Loss, r2.Loss)
	assert.Equal(before, snapshot(tr), "Test must never change parameters")
	assert.Equal(distribution.Evaluation, v.q.Mode())
}

func TestDeterministicEval(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 4, true)
	tr := v.trainer(t)
	defer tr.Close()

	r1, err := tr.Test(testBatchData())
	require.NoError(t, err)
	r2, err := tr.Test(testBatchData())
	require.NoError(t, err)
	assert.Equal(r1.LowerBound, r2.LowerBound)
}

func TestTrainingImprovesBound(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 5, true)
	tr := v.trainer(t)
	defer tr.Close()

	start, err := tr.Test(testBatchData())
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		_, err := tr.Train(testBatchData())
		require.NoError(t, err)
	}

	end, err := tr.Test(testBatchData())
	require.NoError(t, err)
	assert.True(end.Loss < start.Loss, "loss went from %v to %v", start.Loss, end.Loss)
}

func TestBatchErrors(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 6, false)
	tr := v.trainer(t)
	defer tr.Close()

	before := snapshot(tr)

	good := testBatchData()
	cases := []Batch{
		{},
		{"x": good["x"], "y": good["x"]},
		{"x": tensor.New(tensor.WithShape(2, testWidth), tensor.WithBacking(make([]float64, 2*testWidth)))},
		{"x": tensor.New(tensor.WithShape(testBatch, testWidth), tensor.WithBacking(make([]float32, testBatch*testWidth)))},
	}

	for i, b := range cases {
		var batchErr *BatchError

		_, err := tr.Train(b)
		assert.True(errors.As(err, &batchErr), "case %d: %v", i, err)

		_, err = tr.Test(b)
		assert.True(errors.As(err, &batchErr), "case %d: %v", i, err)
	}

	assert.Equal(before, snapshot(tr))
}

func TestAnalyticKL(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 7, false)
	tr, err := New(v.lik, v.q, v.inputs, optim.Adam, optim.Config{LearnRate: 0.01}, WithAnalyticKL(nil, v.prior))
	require.NoError(t, err)
	defer tr.Close()

	res, err := tr.Train(testBatchData())
	require.NoError(t, err)
	assert.InDelta(negMean(res.LowerBound), res.Loss, 1e-9)

	res, err = tr.Test(testBatchData())
	require.NoError(t, err)
	assert.InDelta(negMean(res.LowerBound), res.Loss, 1e-9)

	// With the analytic KL the bound is log p(x|z) - KL <= 0 for binary data
	for _, lb := range res.LowerBound {
		assert.True(lb <= 0, "bound %v", lb)
	}
}

func TestAnalyticKLUnsupported(t *testing.T) {
	v := newVAE(t, 8, false)

	// A Bernoulli "prior" has no closed form against a Normal
	_, err := New(v.lik, v.q, v.inputs, optim.Adam, optim.Config{}, WithAnalyticKL(kl.NewEstimator(), v.lik))

	var unsup *kl.UnsupportedError
	assert.True(t, errors.As(err, &unsup), "%v", err)
}

func TestNewErrors(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 9, false)

	_, err := New(nil, v.q, v.inputs, optim.Adam, optim.Config{})
	assert.Error(err)

	_, err = New(v.lik, v.q, v.inputs, nil, optim.Config{})
	assert.Error(err)

	_, err = New(v.lik, v.q, distribution.Observation{}, optim.Adam, optim.Config{})
	assert.Error(err)

	_, err = New(v.lik, v.q, v.inputs, optim.Adam, optim.Config{LearnRate: -1})
	assert.Error(err)

	// q conditions on a variable that is not an input: the observation
	// error is returned as is
	_, err = New(v.lik, v.q, distribution.Observation{"y": v.x}, optim.Adam, optim.Config{})
	assert.Error(err)
	assert.Contains(err.Error(), `"x"`)
}

// infLikelihood scores every sample as +Inf
type infLikelihood struct {
	mode distribution.Mode
}

func (d *infLikelihood) Name() string { return "Inf" }
func (d *infLikelihood) Vars() []string { return []string{"x"} }
func (d *infLikelihood) CondVars() []string { return []string{"z"} }
func (d *infLikelihood) Parameters() G.Nodes { return nil }
func (d *infLikelihood) SetMode(m distribution.Mode) { d.mode = m }
func (d *infLikelihood) Mode() distribution.Mode { return d.mode }
func (d *infLikelihood) Sample(o distribution.Observation) (distribution.Observation, error) {
	return o, nil
}
func (d *infLikelihood) LogLikelihood(o distribution.Observation) (*G.Node, error) {
	vals := make([]float64, testBatch)
	for i := range vals {
		vals[i] = math.Inf(1)
	}
	g := o["z"].Graph()
	return G.NewVector(g, tensor.Float64,
		G.WithShape(testBatch),
		G.WithName("inf_ll"),
		G.WithValue(tensor.New(tensor.WithShape(testBatch), tensor.WithBacking(vals))),
	), nil
}

func TestNonFiniteBoundDoesNotStep(t *testing.T) {
	assert := assert.New(t)

	v := newVAE(t, 10, false)
	tr, err := New(&infLikelihood{}, v.q, v.inputs, optim.SGD, optim.Config{})
	require.NoError(t, err)
	defer tr.Close()

	before := snapshot(tr)
	_, err = tr.Train(testBatchData())

	var domErr *kl.DomainError
	assert.True(errors.As(err, &domErr), "%v", err)
	assert.Equal(before, snapshot(tr))
}
