package cmd

import (
	"expvar"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

const progressMapName = "vinfer-progress"

// monitor publishes training progress with expvar over HTTP
type monitor struct {
	info    *expvar.Map
	stopped chan struct{}
	server  *http.Server

	RunID      *expvar.String
	Epoch      *expvar.Int
	MaxEpochs  *expvar.Int
	Iterations *expvar.Int
	RunTime    *expvar.Float

	LastTrainLoss *expvar.Float
	LastTestLoss  *expvar.Float
	LastELBO      *expvar.Float
}

// Start begins the monitor, serving on addr
func (m *monitor) Start(addr string) error {
	if m.info != nil {
		return errors.Errorf("BUG: You may only start the process monitor once")
	}

	// expvar names are process wide, so a later monitor takes over the map
	if existing, ok := expvar.Get(progressMapName).(*expvar.Map); ok {
		m.info = existing
	} else {
		m.info = expvar.NewMap(progressMapName)
	}
	m.stopped = make(chan struct{})

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	// Redirect to the only thing currently available
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/debug/vars", http.StatusTemporaryRedirect)
	})
	m.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	m.RunID = new(expvar.String)
	m.Epoch = new(expvar.Int)
	m.MaxEpochs = new(expvar.Int)
	m.Iterations = new(expvar.Int)
	m.RunTime = new(expvar.Float)
	m.LastTrainLoss = new(expvar.Float)
	m.LastTestLoss = new(expvar.Float)
	m.LastELBO = new(expvar.Float)

	m.info.Set("Run-ID", m.RunID)
	m.info.Set("Epoch", m.Epoch)
	m.info.Set("Max-Epochs", m.MaxEpochs)
	m.info.Set("Iterations", m.Iterations)
	m.info.Set("Run-Time", m.RunTime)
	m.info.Set("Last-Train-Loss", m.LastTrainLoss)
	m.info.Set("Last-Test-Loss", m.LastTestLoss)
	m.info.Set("Last-ELBO", m.LastELBO)

	// Actual server that will close the stopped channel on exit
	started := make(chan struct{})
	go func() {
		defer close(m.stopped)
		fmt.Fprintf(os.Stderr, "HTTP now available at %v (see debug/vars/)\n", m.server.Addr)
		close(started)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "HTTP monitor failed on %v: %v\n", m.server.Addr, err)
		}
	}()

	<-started
	return nil
}

// Stop shuts the server down, giving up after two seconds
func (m *monitor) Stop() {
	if m.info == nil || m.server == nil {
		return
	}

	m.server.Close()

	select {
	case <-m.stopped:
		fmt.Fprintf(os.Stderr, "HTTP Info Stopped\n")
	case <-time.After(2 * time.Second):
		fmt.Fprintf(os.Stderr, "HTTP would NOT stop: just continuing on\n")
	}
	m.server = nil
}
