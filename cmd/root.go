package cmd

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var verbose bool
var randomSeed int64
var traceFile string

// startupParams is what every subcommand gets from the root command
type startupParams struct {
	verbose bool
	seed    int64

	out   *log.Logger
	trace *log.Logger

	traceCloser io.Closer
}

func newStartupParams() (*startupParams, error) {
	sp := &startupParams{
		verbose: verbose,
		seed:    randomSeed,
		out:     log.New(os.Stdout, "", log.Ltime),
		trace:   log.New(ioutil.Discard, "", 0),
	}

	if len(traceFile) > 0 {
		f, err := os.Create(traceFile)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not create trace file %s", traceFile)
		}
		sp.trace = log.New(f, "", log.Lmicroseconds)
		sp.traceCloser = f
	}

	return sp, nil
}

// Close flushes and closes the trace file if there is one
func (sp *startupParams) Close() error {
	if sp.traceCloser == nil {
		return nil
	}
	err := sp.traceCloser.Close()
	sp.traceCloser = nil
	return err
}

// banner logs the run settings, plus the CPU features when verbose
func (sp *startupParams) banner(name string) {
	sp.out.Printf("vinfer %s\n", name)
	sp.out.Printf("Verbose:  %v\n", sp.verbose)
	sp.out.Printf("Rnd Seed: %d\n", sp.seed)
	sp.out.Printf("Trace:    %s\n", traceFile)

	if !sp.verbose {
		return
	}
	sp.out.Printf("CPU:      %s (%d cores, %d threads)\n", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	sp.out.Printf("AVX2:     %v\n", cpuid.CPU.Supports(cpuid.AVX2))
	sp.out.Printf("AVX512:   %v\n", cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ))
	sp.out.Printf("Features: %s\n", strings.Join(cpuid.CPU.FeatureSet(), ","))
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vinfer",
	Short: "Variational inference for latent variable models",
	Long: `vinfer trains a generative model p(x, z) and an approximate
posterior q(z | x) by maximizing the evidence lower bound.
Among other features:

  - Gaussian encoders, Bernoulli decoders and unit normal priors
  - Closed-form KL divergence between Gaussians
  - Adam, SGD, RMSProp and Momentum optimizers
  - Reproducible runs from a single random seed
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	rootCmd.PersistentFlags().Int64VarP(&randomSeed, "seed", "r", 1, "Random seed to use")
	rootCmd.PersistentFlags().StringVarP(&traceFile, "trace", "t", "", "Optional trace file for per step output")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(klCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
