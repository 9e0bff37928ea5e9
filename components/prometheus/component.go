package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/iotaledger/hive.go/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"

	"github.com/shadowlend/shadowlend/pkg/daemon"
)

func init() {
	Component = &app.Component{
		Name:     "Prometheus",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		IsEnabled: func(_ *dig.Container) bool {
			return ParamsPrometheus.Enabled
		},
		Provide:   provide,
		Configure: configure,
		Run:       run,
	}
}

var (
	Component *app.Component
	deps      dependencies
	server    *http.Server
)

type dependencies struct {
	dig.In

	Registry *prometheus.Registry
}

func provide(c *dig.Container) error {
	return c.Provide(prometheus.NewRegistry)
}

func configure() error {
	if ParamsPrometheus.GoMetrics {
		deps.Registry.MustRegister(collectors.NewGoCollector())
	}
	if ParamsPrometheus.ProcessMetrics {
		deps.Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return nil
}

func run() error {
	return Component.Daemon().BackgroundWorker("Prometheus", func(ctx context.Context) {
		Component.LogInfof("Starting prometheus exporter on %s...", ParamsPrometheus.BindAddress)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

		server = &http.Server{
			Addr:              ParamsPrometheus.BindAddress,
			Handler:           mux,
			ReadHeaderTimeout: 3 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				Component.LogWarnf("Stopped prometheus exporter due to an error: %v", err)
			}
		}()

		<-ctx.Done()

		Component.LogInfo("Stopping prometheus exporter...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			Component.LogWarnf("Error shutting down prometheus exporter: %v", err)
		}
		Component.LogInfo("Prometheus exporter stopped")
	}, daemon.PriorityPrometheus)
}
