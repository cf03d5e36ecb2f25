package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditflow/internal/clock"
	"github.com/smallbiznis/creditflow/internal/config"
	"github.com/smallbiznis/creditflow/internal/logger"
	"github.com/smallbiznis/creditflow/internal/migration"
	"github.com/smallbiznis/creditflow/internal/observability"
	"github.com/smallbiznis/creditflow/internal/seed"
	"github.com/smallbiznis/creditflow/internal/server"
	"github.com/smallbiznis/creditflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,
		server.Module,
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
