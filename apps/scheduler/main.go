package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/internal/audit"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	"github.com/smallbiznis/sendora/internal/observability"
	"github.com/smallbiznis/sendora/internal/ratelimit"
	"github.com/smallbiznis/sendora/internal/scheduler"
	"github.com/smallbiznis/sendora/internal/usage"
	"github.com/smallbiznis/sendora/pkg/db"
	"go.uber.org/fx"
)

// Dedicated sweep worker for cloud deployments. The API binary skips
// its in-process loop when APP_MODE=cloud, so this process owns the
// usage resets, downgrades and audit pruning. Redis leases keep
// replicas from sweeping the same batch twice.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services the sweeps run on
		audit.Module,
		usage.Module,
		ratelimit.Module,

		// scheduler.Module would also wire the in-process loop with its
		// cloud-mode skip; the worker drives the loop itself instead.
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),

		// No server module!
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.RunForever(context.Background())
			return nil
		},
	})
}
