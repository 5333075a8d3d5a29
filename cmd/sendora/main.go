package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/cloudmetrics"
	"github.com/smallbiznis/sendora/internal/config"
	"github.com/smallbiznis/sendora/internal/migration"
	"github.com/smallbiznis/sendora/internal/observability"
	"github.com/smallbiznis/sendora/internal/scheduler"
	"github.com/smallbiznis/sendora/internal/server"
	"github.com/smallbiznis/sendora/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Entitlement domains ride in server.Module; the in-process
		// scheduler loop makes this binary a full monolith.
		server.Module,
		scheduler.Module,
		cloudmetrics.Module,
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
