package shadowlend

import (
	"context"

	"github.com/iotaledger/hive.go/app"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"github.com/shadowlend/shadowlend/internal/ledger"
	"github.com/shadowlend/shadowlend/pkg/daemon"
	"github.com/shadowlend/shadowlend/shadowlend"
)

func init() {
	Component = &app.Component{
		Name:     "ShadowLend",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		IsEnabled: func(_ *dig.Container) bool {
			return ParamsShadowLend.Enabled
		},
		Provide:   provide,
		Configure: configure,
		Run:       run,
	}
}

var (
	Component *app.Component
	deps      dependencies
	service   *shadowlend.Service
)

type dependencies struct {
	dig.In

	Manifest *shadowlend.Manifest
	Reader   ledger.Reader
	Registry *prometheus.Registry `optional:"true"`
}

func provide(c *dig.Container) error {
	if err := c.Provide(func() (*shadowlend.Manifest, error) {
		return shadowlend.LoadManifest(ParamsShadowLend.ManifestPath)
	}); err != nil {
		return err
	}

	return c.Provide(func(manifest *shadowlend.Manifest) (ledger.Reader, error) {
		return ledger.NewClient(ledger.ClientConfig{
			RPCURL:         ParamsShadowLend.RPC.URL,
			ClusterAccount: manifest.ClusterAccount,
			Timeout:        ParamsShadowLend.RPC.Timeout,
		})
	})
}

func configure() error {
	cfg := shadowlend.DefaultServiceConfig()
	cfg.Cipher.FetchAttempts = ParamsShadowLend.Cipher.FetchAttempts
	cfg.Cipher.FetchDelay = ParamsShadowLend.Cipher.FetchDelay
	cfg.Monitor.PollInterval = ParamsShadowLend.Monitor.PollInterval
	cfg.Monitor.ReadinessAttempts = ParamsShadowLend.Monitor.ReadinessAttempts
	cfg.Monitor.FinalizationBudget = ParamsShadowLend.Monitor.FinalizationBudget
	cfg.Monitor.FinalizationAttempts = ParamsShadowLend.Monitor.FinalizationAttempts
	cfg.ReadinessBudget = ParamsShadowLend.Monitor.ReadinessBudget

	var reg prometheus.Registerer
	if deps.Registry != nil {
		reg = deps.Registry
	}

	var err error
	service, err = shadowlend.NewService(
		Component.App().NewLogger("ShadowLend"),
		deps.Reader,
		deps.Manifest,
		cfg,
		reg,
	)
	if err != nil {
		Component.LogErrorf("Failed to create ShadowLend service: %v", err)
		return err
	}
	Component.LogInfof("ShadowLend service created for program %s", deps.Manifest.ProgramID)

	return nil
}

func run() error {
	return Component.Daemon().BackgroundWorker("ShadowLend-ClusterMonitor", func(ctx context.Context) {
		ready, err := service.Monitor().AwaitClusterReady(ctx)
		if err != nil {
			Component.LogWarnf("Cluster readiness check aborted: %v", err)
		} else if !ready {
			Component.LogWarn("MPC cluster key not published yet; confidential operations will retry on demand")
		} else {
			Component.LogInfo("MPC cluster ready")
		}

		<-ctx.Done()

		service.Close()
	}, daemon.PriorityClusterMonitor)
}
