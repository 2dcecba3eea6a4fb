package payment

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// SettingsSource supplies the operator-managed gateway settings row.
type SettingsSource interface {
	GetGatewaySettings(ctx context.Context) (*models.GatewaySettings, error)
}

// ResolveCredentials picks the gateway credentials once at startup. A settings
// row with a store id wins over static config; a lookup error falls back to
// static config.
func ResolveCredentials(ctx context.Context, src SettingsSource, static Credentials) Credentials {
	logger := util.GetLogger()

	settings, err := src.GetGatewaySettings(ctx)
	if err != nil {
		logger.Warn("Failed to load gateway settings, using static config", zap.Error(err))
		return static
	}
	if settings == nil || settings.StoreID == "" {
		return static
	}

	logger.Info("Using gateway credentials from site settings",
		zap.String("store_id", settings.StoreID),
		zap.Bool("sandbox", settings.Sandbox))
	return Credentials{
		StoreID:       settings.StoreID,
		StorePassword: settings.StorePassword,
		Sandbox:       settings.Sandbox,
	}
}
