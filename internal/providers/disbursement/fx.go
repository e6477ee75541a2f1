package disbursement

import "go.uber.org/fx"

var Module = fx.Module("disbursement",
	fx.Provide(NewRegistry),
)
