package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// EnforceSchemaGate fails fast during application startup when the schema is not active.
func EnforceSchemaGate(lc fx.Lifecycle, gate SchemaGate, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gate.MustBeActive(ctx); err != nil {
				log.Error("schema gate rejected startup, run `revshare migrate` first", zap.Error(err))
				return err
			}
			return nil
		},
	})
}
