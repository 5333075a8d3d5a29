package domainauth

import (
	"github.com/smallbiznis/sendora/internal/config"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.domainauth",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewFromConfig(p Params) Provider {
	return NewClient(p.Config.DomainAuth, p.Log, p.Metrics)
}
