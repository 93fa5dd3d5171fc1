package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gorgonia.org/tensor"

	"github.com/CraigKelly/vinfer/kl"
)

var klMu []float64
var klVar []float64
var klDim int

var klCmd = &cobra.Command{
	Use:   "kl",
	Short: "KL divergence of diagonal Gaussians from N(0, I)",
	Long: `kl prints KL(N(mu, diag(var)) || N(0, I)) for each row. --mu and --var
are comma separated lists read row major with --dim values per row.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, err := newStartupParams()
		if err != nil {
			return err
		}
		defer sp.Close()

		vals, err := UnitGaussKL(klMu, klVar, klDim)
		if err != nil {
			return err
		}
		for i, v := range vals {
			sp.out.Printf("Row %d KL: %.8f\n", i, v)
		}
		return nil
	},
}

func init() {
	klCmd.Flags().Float64SliceVar(&klMu, "mu", nil, "Comma separated means")
	klCmd.Flags().Float64SliceVar(&klVar, "var", nil, "Comma separated variances")
	klCmd.Flags().IntVar(&klDim, "dim", 1, "Values per row")
}

// UnitGaussKL reads the mean and variance lists as [rows, dim] matrices and
// returns the per row KL divergence from the unit Gaussian
func UnitGaussKL(mu, variance []float64, dim int) ([]float64, error) {
	if dim < 1 {
		return nil, errors.Errorf("Invalid dim %d", dim)
	}
	if len(mu) < 1 || len(variance) < 1 {
		return nil, errors.Errorf("Both --mu and --var are required (got %d and %d values)", len(mu), len(variance))
	}
	if len(mu)%dim != 0 || len(variance)%dim != 0 {
		return nil, errors.Errorf("Got %d means and %d variances, not a multiple of dim %d", len(mu), len(variance), dim)
	}

	// The tensors take ownership of their backing slices
	muVals := append([]float64(nil), mu...)
	varVals := append([]float64(nil), variance...)

	muT := tensor.New(tensor.WithShape(len(muVals)/dim, dim), tensor.WithBacking(muVals))
	varT := tensor.New(tensor.WithShape(len(varVals)/dim, dim), tensor.WithBacking(varVals))
	return kl.GaussUnitGaussKL(muT, varT)
}
