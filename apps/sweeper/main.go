package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/application"
	"github.com/isabella232/smartstart-sub000/internal/audit"
	"github.com/isabella232/smartstart-sub000/internal/clock"
	"github.com/isabella232/smartstart-sub000/internal/config"
	"github.com/isabella232/smartstart-sub000/internal/leader"
	"github.com/isabella232/smartstart-sub000/internal/migration"
	"github.com/isabella232/smartstart-sub000/internal/observability"
	"github.com/isabella232/smartstart-sub000/internal/ratelimit"
	"github.com/isabella232/smartstart-sub000/internal/registry"
	"github.com/isabella232/smartstart-sub000/internal/sweeper"
	"github.com/isabella232/smartstart-sub000/pkg/db"
)

// The sweeper binary runs the orphaned-application sweep without an
// HTTP server, for deployments that separate background work from the
// request path.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		application.Module,
		audit.Module,
		leader.Module,
		registry.Module,
		ratelimit.Module,
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
