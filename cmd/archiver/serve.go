package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/acme-corp/meeting-archiver/internal/archiver"
	"github.com/acme-corp/meeting-archiver/internal/config"
	"github.com/acme-corp/meeting-archiver/internal/logger"
	"github.com/acme-corp/meeting-archiver/internal/metrics"
)

func newServeCommand(cfg *config.Config, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the export trigger and metrics over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           newRouter(a.Trigger, a.arch, a.metrics, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				a.log.Infof("listening on %s", cfg.Listen)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Infof("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

type handler struct {
	trigger func(context.Context) archiver.Result
	arch    *archiver.Archiver
	log     logger.Logger
}

// newRouter routes POST /trigger, GET /healthz and GET /metrics.
func newRouter(trigger func(context.Context) archiver.Result, arch *archiver.Archiver, m *metrics.Collector, log logger.Logger) http.Handler {
	h := &handler{trigger: trigger, arch: arch, log: log}
	router := mux.NewRouter()
	router.HandleFunc("/trigger", h.handlePostTrigger).Methods("POST")
	router.HandleFunc("/healthz", h.handleGetHealth).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	return router
}

func (h *handler) handlePostTrigger(w http.ResponseWriter, r *http.Request) {
	// A client hanging up does not cancel a run that has started.
	res := h.trigger(context.WithoutCancel(r.Context()))
	h.writeJSON(w, res.StatusCode, res)
}

func (h *handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"state": h.arch.State().String()})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warnf("writing response: %v", err)
	}
}
