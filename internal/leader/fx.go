package leader

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/leader/service"
)

var Module = fx.Module("leader",
	fx.Provide(
		service.Provide,
	),
)
