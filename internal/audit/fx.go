package audit

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/audit/repository"
)

var Module = fx.Module("audit",
	fx.Provide(
		repository.Provide,
	),
)
