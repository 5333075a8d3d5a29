package scheduler

import (
	"context"

	"go.uber.org/fx"

	appconfig "github.com/smallbiznis/sendora/internal/config"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RunSchedulerLoop),
)

// RunSchedulerLoop runs the sweep loop inside the API process. Cloud
// deployments run the loop in the dedicated scheduler binary instead,
// so the in-process loop is skipped there.
func RunSchedulerLoop(lc fx.Lifecycle, cfg appconfig.Config, sched *Scheduler) {
	if cfg.IsCloud() {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go sched.RunForever(ctx)
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
