package paygate

import "go.uber.org/fx"

var Module = fx.Module("paygate",
	fx.Provide(Provide),
)
