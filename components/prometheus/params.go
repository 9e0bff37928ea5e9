package prometheus

import (
	"github.com/iotaledger/hive.go/app"
)

type ParametersPrometheus struct {
	Enabled     bool   `default:"true" usage:"whether the prometheus exporter is enabled"`
	BindAddress string `default:"localhost:9312" usage:"bind address on which the prometheus exporter listens"`

	GoMetrics      bool `default:"false" usage:"include go metrics"`
	ProcessMetrics bool `default:"false" usage:"include process metrics"`
}

var ParamsPrometheus = &ParametersPrometheus{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"prometheus": ParamsPrometheus,
	},
	Masked: []string{},
}
