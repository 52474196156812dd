// Package protection implements the operator-facing operations of the gate:
// settings management, statistics and maintenance.
package protection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"antiddos/internal/gate"
	"antiddos/internal/models"
	"antiddos/internal/settings"
)

// SettingsStore is the settings provider as the service uses it.
type SettingsStore interface {
	Snapshot(ctx context.Context) (models.Settings, error)
	Save(ctx context.Context, raw map[string]string) error
	Timezone(ctx context.Context) *time.Location
	SetTimezone(ctx context.Context, name string) error
}

// Ledger is the block ledger as the service uses it.
type Ledger interface {
	Stats(ctx context.Context, q gate.StatsQuery) (models.BlockStats, error)
	Clear(ctx context.Context) error
}

// AddressInspector reports the gate's view of one address.
type AddressInspector interface {
	AddressStatus(ctx context.Context, address string) (*models.AddressStatusResponse, error)
}

// Service handles the operator operations on top of the settings provider and
// the block ledger.
type Service struct {
	settings  SettingsStore
	ledger    Ledger
	inspector AddressInspector
	logger    *slog.Logger
}

// NewService creates a protection service. inspector may be nil, in which case
// InspectAddress reports every address as unclassified and not blocked.
func NewService(s SettingsStore, ledger Ledger, inspector AddressInspector, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings:  s,
		ledger:    ledger,
		inspector: inspector,
		logger:    logger,
	}
}

func (s *Service) GetSettings(ctx context.Context) (*models.SettingsResponse, error) {
	current, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, NewInternalError("failed to load settings", err)
	}
	return models.NewSettingsResponse(current), nil
}

func (s *Service) SaveSettings(ctx context.Context, values map[string]any) error {
	raw, err := models.EncodeSettingsUpdate(values)
	if err != nil {
		var verr *models.SettingsValidationError
		if errors.As(err, &verr) {
			return NewValidationError("invalid settings", verr.Fields, err)
		}
		return NewInvalidRequestError("invalid settings", err)
	}
	if len(raw) == 0 {
		return nil
	}

	if err := s.settings.Save(ctx, raw); err != nil {
		return NewInternalError("failed to save settings", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	s.logger.Info("Settings updated", "keys", keys)
	return nil
}

func (s *Service) GetStats(ctx context.Context, dateFrom, dateTo string) (*models.StatsResponse, error) {
	q := gate.StatsQuery{
		DateFrom: strings.TrimSpace(dateFrom),
		DateTo:   strings.TrimSpace(dateTo),
	}

	stats, err := s.ledger.Stats(ctx, q)
	if err != nil {
		if errors.Is(err, gate.ErrInvalidDate) {
			return nil, NewValidationError("invalid date filter", map[string]string{
				"date_from": "must be YYYY-MM-DD",
				"date_to":   "must be YYYY-MM-DD",
			}, err)
		}
		return nil, NewInternalError("failed to compute statistics", err)
	}

	resp := &models.StatsResponse{
		BlockStats: stats,
		Timezone:   s.settings.Timezone(ctx).String(),
	}
	if q.DateFrom != "" && q.DateTo != "" {
		resp.DateFrom = q.DateFrom
		resp.DateTo = q.DateTo
	}
	return resp, nil
}

func (s *Service) ClearLogs(ctx context.Context) error {
	if err := s.ledger.Clear(ctx); err != nil {
		return NewInternalError("failed to clear logs", err)
	}
	s.logger.Info("Block logs and rate records cleared")
	return nil
}

func (s *Service) GetTimezone(ctx context.Context) (*models.TimezoneResponse, error) {
	return &models.TimezoneResponse{Timezone: s.settings.Timezone(ctx).String()}, nil
}

func (s *Service) SetTimezone(ctx context.Context, name string) error {
	if err := s.settings.SetTimezone(ctx, name); err != nil {
		if errors.Is(err, settings.ErrInvalidTimezone) {
			return NewValidationError("invalid timezone", map[string]string{
				"timezone": "must be an IANA timezone name",
			}, err)
		}
		return NewInternalError("failed to save timezone", err)
	}
	s.logger.Info("Operating timezone updated", "timezone", name)
	return nil
}

func (s *Service) InspectAddress(ctx context.Context, address string) (*models.AddressStatusResponse, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, NewInvalidRequestError("address is required", nil)
	}
	if s.inspector == nil {
		return &models.AddressStatusResponse{
			Address:        address,
			Classification: gate.Unclassified.String(),
		}, nil
	}

	status, err := s.inspector.AddressStatus(ctx, address)
	if err != nil {
		return nil, NewInternalError("failed to inspect address", err)
	}
	return status, nil
}
