package providers

import (
	"go.uber.org/fx"

	"github.com/isabella232/smartstart-sub000/internal/providers/email"
)

var Module = fx.Module("providers",
	email.Module,
)
