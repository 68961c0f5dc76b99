package reconcile

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/reconcile/service"
)

var Module = fx.Module("reconcile",
	fx.Provide(
		service.Provide,
	),
)
