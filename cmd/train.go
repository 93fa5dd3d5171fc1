package cmd

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	G "gorgonia.org/gorgonia"

	"github.com/CraigKelly/vinfer/buffer"
	"github.com/CraigKelly/vinfer/dataset"
	"github.com/CraigKelly/vinfer/distribution"
	"github.com/CraigKelly/vinfer/optim"
	"github.com/CraigKelly/vinfer/rand"
	"github.com/CraigKelly/vinfer/vi"
)

// trainParams are the flags of the train command
type trainParams struct {
	dataFile  string
	synthetic int
	cols      int
	testFrac  float64

	batch      int
	hidden     int
	latent     int
	epochs     int
	optimizer  string
	learnRate  float64
	analyticKL bool

	convergeWindow int
	tolerance      float64

	monitor bool
	addr    string
}

var trainFlags trainParams

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a variational auto-encoder on binary data",
	Long: `train fits q(z | x) = Normal and p(x, z) = Bernoulli(x | z) UnitNormal(z)
by stochastic maximization of the ELBO. Data comes from --data (a file
with a "rows cols" header followed by the values) or is generated with
--synthetic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := newStartupParams()
		if err != nil {
			return err
		}
		defer sp.Close()

		sp.banner("train")
		_, err = TrainModel(sp, trainFlags)
		return err
	},
}

func init() {
	f := trainCmd.Flags()
	f.StringVarP(&trainFlags.dataFile, "data", "d", "", "Data file to read")
	f.IntVar(&trainFlags.synthetic, "synthetic", 0, "Generate this many synthetic rows instead of reading --data")
	f.IntVar(&trainFlags.cols, "cols", 16, "Width of synthetic rows")
	f.Float64Var(&trainFlags.testFrac, "test", 0.2, "Fraction of rows held out for testing")

	f.IntVarP(&trainFlags.batch, "batch", "b", 32, "Minibatch size")
	f.IntVar(&trainFlags.hidden, "hidden", 64, "Hidden layer width")
	f.IntVar(&trainFlags.latent, "latent", 2, "Latent dimension")
	f.IntVarP(&trainFlags.epochs, "epochs", "e", 50, "Maximum number of epochs")
	f.StringVarP(&trainFlags.optimizer, "optimizer", "o", "adam", "Optimizer to use")
	f.Float64Var(&trainFlags.learnRate, "lr", 0.001, "Learning rate")
	f.BoolVar(&trainFlags.analyticKL, "analytic-kl", false, "Use the closed form KL term instead of the sampled prior")

	f.IntVar(&trainFlags.convergeWindow, "converge-window", 10, "Epochs of test loss used to detect convergence (0 disables)")
	f.Float64Var(&trainFlags.tolerance, "tolerance", 1e-3, "Stop when the test loss window moves less than this")

	f.BoolVar(&trainFlags.monitor, "monitor", false, "Serve progress with expvar over HTTP")
	f.StringVar(&trainFlags.addr, "addr", ":8000", "Address for --monitor")
}

// TrainSummary is what a training run reports at the end
type TrainSummary struct {
	RunID     string
	Epochs    int
	Steps     int
	TrainLoss float64
	TestLoss  float64
	Converged bool
}

// loadData reads or generates the dataset and splits it
func loadData(sp *startupParams, tp trainParams, gen *rand.Generator) (*dataset.Dataset, *dataset.Dataset, error) {
	var data *dataset.Dataset
	var err error

	switch {
	case len(tp.dataFile) > 0 && tp.synthetic > 0:
		return nil, nil, errors.New("Specify only one of --data and --synthetic")
	case len(tp.dataFile) > 0:
		sp.out.Printf("Reading data from %s\n", tp.dataFile)
		data, err = dataset.ReadFile(tp.dataFile)
	case tp.synthetic > 0:
		sp.out.Printf("Generating %d synthetic rows of width %d\n", tp.synthetic, tp.cols)
		data, err = dataset.Synthetic(gen, tp.synthetic, tp.cols, 4, 0.05)
	default:
		return nil, nil, errors.New("One of --data or --synthetic is required")
	}
	if err != nil {
		return nil, nil, err
	}

	train, test, err := data.Split(1.0 - tp.testFrac)
	if err != nil {
		return nil, nil, err
	}
	if test.Rows < tp.batch {
		return nil, nil, errors.Errorf("Test split has %d rows, less than one batch of %d", test.Rows, tp.batch)
	}
	sp.out.Printf("Data %s: %d train rows, %d test rows, width %d\n", data.Name, train.Rows, test.Rows, data.Cols)

	return train, test, nil
}

// buildTrainer creates the encoder, decoder and prior on a fresh graph
func buildTrainer(sp *startupParams, tp trainParams, gen *rand.Generator, cols int) (*vi.Trainer, error) {
	factory, err := optim.Lookup(tp.optimizer)
	if err != nil {
		return nil, err
	}

	g := G.NewGraph()
	x := distribution.NewInput(g, "x", tp.batch, cols)

	q, err := distribution.NewNormal(g, distribution.NormalConfig{
		Var:               "z",
		CondVars:          []string{"x"},
		InputDim:          cols,
		Hidden:            tp.hidden,
		Dim:               tp.latent,
		Source:            gen,
		DeterministicEval: true,
	})
	if err != nil {
		return nil, err
	}

	lik, err := distribution.NewBernoulli(g, distribution.BernoulliConfig{
		Var:      "x",
		CondVars: []string{"z"},
		InputDim: tp.latent,
		Hidden:   tp.hidden,
		Dim:      cols,
		Source:   gen,
	})
	if err != nil {
		return nil, err
	}

	prior, err := distribution.NewUnitNormal("z", tp.batch, tp.latent, gen)
	if err != nil {
		return nil, err
	}

	cfg := optim.Config{LearnRate: tp.learnRate}
	inputs := distribution.Observation{"x": x}
	opts := []vi.Option{vi.WithLogger(sp.trace)}

	if tp.analyticKL {
		return vi.New(lik, q, inputs, factory, cfg, append(opts, vi.WithAnalyticKL(nil, prior))...)
	}

	p, err := distribution.NewJoint(lik, prior)
	if err != nil {
		return nil, err
	}
	return vi.New(p, q, inputs, factory, cfg, opts...)
}

// TrainModel runs a full training session and reports the final losses
func TrainModel(sp *startupParams, tp trainParams) (*TrainSummary, error) {
	if tp.epochs < 1 {
		return nil, errors.Errorf("Invalid epoch count %d", tp.epochs)
	}

	gen, err := rand.NewGenerator(sp.seed)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not create PRNG")
	}

	summary := &TrainSummary{RunID: uuid.New().String()}
	sp.out.Printf("Run ID: %s\n", summary.RunID)
	sp.trace.Printf("RUN %s\n", summary.RunID)

	train, test, err := loadData(sp, tp, gen)
	if err != nil {
		return nil, err
	}

	tr, err := buildTrainer(sp, tp, gen, train.Cols)
	if err != nil {
		return nil, errors.Wrap(err, "Could not build model")
	}
	defer tr.Close()

	testBatches, err := test.Batches(tp.batch, nil)
	if err != nil {
		return nil, err
	}

	mon := &monitor{}
	if tp.monitor {
		if err := mon.Start(tp.addr); err != nil {
			return nil, err
		}
		defer mon.Stop()
		mon.RunID.Set(summary.RunID)
		mon.MaxEpochs.Set(int64(tp.epochs))
	}

	var window *buffer.CircularFloat
	if tp.convergeWindow > 1 {
		window = buffer.NewCircularFloat(tp.convergeWindow)
	}

	startTime := time.Now()
	for epoch := 1; epoch <= tp.epochs; epoch++ {
		batches, err := train.Batches(tp.batch, gen)
		if err != nil {
			return nil, err
		}

		trainLoss := 0.0
		for _, b := range batches {
			res, err := tr.Train(vi.Batch{"x": b})
			if err != nil {
				return nil, errors.Wrapf(err, "Epoch %d step %d", epoch, summary.Steps+1)
			}
			trainLoss += res.Loss
			summary.Steps++
			sp.trace.Printf("STEP %d %.6f\n", summary.Steps, res.Loss)

			if tp.monitor {
				mon.Iterations.Set(int64(summary.Steps))
				mon.LastTrainLoss.Set(res.Loss)
			}
		}
		trainLoss /= float64(len(batches))

		testLoss := 0.0
		for _, b := range testBatches {
			res, err := tr.Test(vi.Batch{"x": b})
			if err != nil {
				return nil, errors.Wrapf(err, "Epoch %d test", epoch)
			}
			testLoss += res.Loss
		}
		testLoss /= float64(len(testBatches))

		summary.Epochs = epoch
		summary.TrainLoss = trainLoss
		summary.TestLoss = testLoss

		runTime := time.Since(startTime).Seconds()
		sp.out.Printf("Epoch %4d | Train %10.4f | Test %10.4f | ELBO %10.4f | %8.2fs\n", epoch, trainLoss, testLoss, -testLoss, runTime)
		sp.trace.Printf("EPOCH %d %.6f %.6f\n", epoch, trainLoss, testLoss)

		if tp.monitor {
			mon.Epoch.Set(int64(epoch))
			mon.LastTestLoss.Set(testLoss)
			mon.LastELBO.Set(-testLoss)
			mon.RunTime.Set(runTime)
		}

		if math.IsNaN(testLoss) {
			return nil, errors.Errorf("Test loss is NaN at epoch %d", epoch)
		}

		if window != nil {
			window.Add(testLoss)
			if window.Converged(tp.tolerance) {
				sp.out.Printf("Test loss converged after %d epochs\n", epoch)
				summary.Converged = true
				break
			}
		}
	}

	sp.out.Printf("Done: %d epochs, %d steps, final test ELBO %.4f\n", summary.Epochs, summary.Steps, -summary.TestLoss)
	return summary, nil
}
