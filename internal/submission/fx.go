package submission

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/submission/service"
)

var Module = fx.Module("submission",
	fx.Provide(
		service.Provide,
	),
)
