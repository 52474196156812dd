package protection

import (
	"context"

	"antiddos/internal/models"
)

// ServiceInterface is the operator surface of the gate.
type ServiceInterface interface {
	// GetSettings returns the current settings in their operator-facing form.
	GetSettings(ctx context.Context) (*models.SettingsResponse, error)

	// SaveSettings normalizes and stores a loosely typed settings mapping.
	// Unknown keys are ignored.
	SaveSettings(ctx context.Context, values map[string]any) error

	// GetStats aggregates the block ledger. Both dates (YYYY-MM-DD) must be set
	// for the range to apply.
	GetStats(ctx context.Context, dateFrom, dateTo string) (*models.StatsResponse, error)

	// ClearLogs deletes every block event and rate record.
	ClearLogs(ctx context.Context) error

	GetTimezone(ctx context.Context) (*models.TimezoneResponse, error)
	SetTimezone(ctx context.Context, name string) error

	// InspectAddress reports how the gate sees an address without counting a request.
	InspectAddress(ctx context.Context, address string) (*models.AddressStatusResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
