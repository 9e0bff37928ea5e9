package shadowlend

import (
	"time"

	"github.com/iotaledger/hive.go/app"
)

type ParametersShadowLend struct {
	Enabled      bool   `default:"true" usage:"whether the ShadowLend client component is enabled"`
	ManifestPath string `default:"shadowlend.json" usage:"path to the deployment manifest"`

	RPC struct {
		URL     string        `default:"http://localhost:8899" usage:"ledger JSON-RPC endpoint"`
		Timeout time.Duration `default:"10s" usage:"request timeout for ledger RPC calls"`
	}

	Cipher struct {
		FetchAttempts int           `default:"3" usage:"attempts to fetch the cluster public key"`
		FetchDelay    time.Duration `default:"500ms" usage:"delay between cluster key fetch attempts"`
	}

	Monitor struct {
		PollInterval         time.Duration `default:"1s" usage:"interval between readiness and finalization polls"`
		ReadinessAttempts    int           `default:"10" usage:"cluster readiness poll attempts"`
		ReadinessBudget      time.Duration `default:"30s" usage:"wall-clock budget for cluster readiness during session setup"`
		FinalizationBudget   time.Duration `default:"2m" usage:"wall-clock budget for computation finalization"`
		FinalizationAttempts int           `default:"0" usage:"finalization poll attempts (0 = wall-clock budget only)"`
	}
}

var ParamsShadowLend = &ParametersShadowLend{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"shadowlend": ParamsShadowLend,
	},
	Masked: []string{},
}
