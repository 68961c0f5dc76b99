package application

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/application/repository"
)

var Module = fx.Module("application",
	fx.Provide(
		repository.Provide,
	),
)
