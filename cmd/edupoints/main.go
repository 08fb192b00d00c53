package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/clock"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/migration"
	"github.com/smallbiznis/edupoints/internal/observability"
	"github.com/smallbiznis/edupoints/internal/scheduler"
	"github.com/smallbiznis/edupoints/internal/server"
	"github.com/smallbiznis/edupoints/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Schema must exist before the enforcer loads policies.
		migration.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

// RegisterSnowflake uses SNOWFLAKE_NODE so replicas never mint colliding
// ledger ids.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
