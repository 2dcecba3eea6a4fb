package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront/internal/models"
)

// GetGatewaySettings returns nil, nil when no settings row has been saved.
func (s *Store) GetGatewaySettings(ctx context.Context) (*models.GatewaySettings, error) {
	var settings models.GatewaySettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT gateway_store_id, gateway_store_password, gateway_sandbox
		FROM site_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
