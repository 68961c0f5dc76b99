package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/clock"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/migration"
	"github.com/isabella232/smartstart-sub000/internal/observability"
	"github.com/isabella232/smartstart-sub000/internal/server"
	"github.com/isabella232/smartstart-sub000/internal/sweeper"
	"github.com/isabella232/smartstart-sub000/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		server.Module,

		// Every instance ticks; the leader gate decides who sweeps.
		sweeper.Module,
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
