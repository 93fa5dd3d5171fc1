package cmd

import (
	"bytes"
	"io/ioutil"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(seed int64) (*startupParams, *bytes.Buffer) {
	var buf bytes.Buffer
	return &startupParams{
		seed:  seed,
		out:   log.New(&buf, "", 0),
		trace: log.New(ioutil.Discard, "", 0),
	}, &buf
}

func smallTrain() trainParams {
	return trainParams{
		synthetic:      40,
		cols:           6,
		testFrac:       0.2,
		batch:          8,
		hidden:         8,
		latent:         2,
		epochs:         3,
		optimizer:      "adam",
		learnRate:      0.01,
		convergeWindow: 0,
	}
}

func TestUnitGaussKL(t *testing.T) {
	assert := assert.New(t)

	vals, err := UnitGaussKL([]float64{0, 0, 1}, []float64{1, 1, 1}, 1)
	assert.NoError(err)
	assert.InDeltaSlice([]float64{0, 0, 0.5}, vals, 1e-12)

	vals, err = UnitGaussKL([]float64{0, 0}, []float64{1, 1}, 2)
	assert.NoError(err)
	assert.InDeltaSlice([]float64{0}, vals, 1e-12)

	_, err = UnitGaussKL([]float64{0, 0, 0}, []float64{1, 1, 1}, 2)
	assert.Error(err)
	_, err = UnitGaussKL([]float64{0}, []float64{1}, 0)
	assert.Error(err)
	_, err = UnitGaussKL([]float64{0}, []float64{-1}, 1)
	assert.Error(err)
	_, err = UnitGaussKL([]float64{0}, nil, 1)
	assert.Error(err)
}

func TestKLFlags(t *testing.T) {
	assert := assert.New(t)
	defer func() {
		klMu, klVar, klDim = nil, nil, 1
	}()

	err := klCmd.ParseFlags([]string{"--mu", "1,2.5,-3e-1", "--var", "1,1", "--var", "2", "--dim", "3"})
	assert.NoError(err)
	assert.Equal([]float64{1, 2.5, -0.3}, klMu)
	assert.Equal([]float64{1, 1, 2}, klVar)
	assert.Equal(3, klDim)

	vals, err := UnitGaussKL(klMu, klVar, klDim)
	assert.NoError(err)
	assert.Len(vals, 1)

	err = klCmd.ParseFlags([]string{"--mu", "1,x"})
	assert.Error(err)
	assert.Contains(err.Error(), "mu")
}

func TestTrainModelSynthetic(t *testing.T) {
	assert := assert.New(t)

	sp, out := testParams(42)
	summary, err := TrainModel(sp, smallTrain())
	require.NoError(t, err)

	_, err = uuid.Parse(summary.RunID)
	assert.NoError(err)
	assert.Equal(3, summary.Epochs)
	// 32 train rows in batches of 8
	assert.Equal(12, summary.Steps)
	assert.False(math.IsNaN(summary.TestLoss))
	assert.Contains(out.String(), "Epoch    3")
}

func TestTrainModelReproducible(t *testing.T) {
	assert := assert.New(t)

	sp1, _ := testParams(7)
	s1, err := TrainModel(sp1, smallTrain())
	require.NoError(t, err)

	sp2, _ := testParams(7)
	s2, err := TrainModel(sp2, smallTrain())
	require.NoError(t, err)

	assert.Equal(s1.TrainLoss, s2.TrainLoss)
	assert.Equal(s1.TestLoss, s2.TestLoss)
	assert.NotEqual(s1.RunID, s2.RunID)
}

func TestTrainModelAnalyticKL(t *testing.T) {
	tp := smallTrain()
	tp.analyticKL = true
	tp.optimizer = "rmsprop"

	sp, _ := testParams(3)
	summary, err := TrainModel(sp, tp)
	require.NoError(t, err)
	assert.True(t, summary.TestLoss > 0)
}

func TestTrainModelFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "vinfer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fn := filepath.Join(dir, "data.txt")
	content := "c tiny binary data\n10 3\n"
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			content += "1 0 1\n"
		} else {
			content += "0 1 0\n"
		}
	}
	require.NoError(t, ioutil.WriteFile(fn, []byte(content), 0644))

	tp := smallTrain()
	tp.synthetic = 0
	tp.dataFile = fn
	tp.batch = 2
	tp.epochs = 2

	sp, out := testParams(1)
	summary, err := TrainModel(sp, tp)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Epochs)
	assert.Contains(t, out.String(), "Reading data from")
}

func TestTrainModelErrors(t *testing.T) {
	assert := assert.New(t)
	sp, _ := testParams(1)

	tp := smallTrain()
	tp.epochs = 0
	_, err := TrainModel(sp, tp)
	assert.Error(err)

	tp = smallTrain()
	tp.synthetic = 0
	_, err = TrainModel(sp, tp)
	assert.Error(err)

	tp = smallTrain()
	tp.dataFile = "also-a-file.txt"
	_, err = TrainModel(sp, tp)
	assert.Error(err)

	tp = smallTrain()
	tp.optimizer = "lbfgs"
	_, err = TrainModel(sp, tp)
	assert.Error(err)

	tp = smallTrain()
	tp.batch = 20
	_, err = TrainModel(sp, tp)
	assert.Error(err)
}

func TestStartupParamsTrace(t *testing.T) {
	dir, err := ioutil.TempDir("", "vinfer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	traceFile = filepath.Join(dir, "trace.txt")
	defer func() { traceFile = "" }()

	sp, err := newStartupParams()
	require.NoError(t, err)
	sp.trace.Printf("hello\n")
	require.NoError(t, sp.Close())
	require.NoError(t, sp.Close())

	data, err := ioutil.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
