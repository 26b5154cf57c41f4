package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Errors returned by the service layer.
var (
	ErrUnknownModule = errors.New("unknown module")
	ErrNotFound      = errors.New("tenant not found")
)

// FieldErrors captures validation messages per field.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError reports invalid input.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// TenantModule is the stored state of a module for a tenant.
type TenantModule struct {
	TenantID  string
	ModuleID  string
	Enabled   bool
	Settings  json.RawMessage
	UpdatedAt time.Time
}

// ModuleStatus is a catalog entry joined with the tenant's state.
type ModuleStatus struct {
	Module
	Enabled bool
}

// Repository abstracts persistence. Implementations return the persistence sentinels.
type Repository interface {
	ListByTenant(ctx context.Context, tenantID string) ([]TenantModule, error)
	Get(ctx context.Context, tenantID, moduleID string) (TenantModule, error)
	IsEnabled(ctx context.Context, tenantID, moduleID string) (bool, error)
	SetEnabled(ctx context.Context, tenantID, moduleID string, enabled bool) (TenantModule, error)
	UpdateSettings(ctx context.Context, tenantID, moduleID string, mutate func(current json.RawMessage) (json.RawMessage, error)) (TenantModule, error)
}

// SchemaValidator validates a payload against a JSON Schema.
type SchemaValidator interface {
	Validate(ctx context.Context, schema persistence.SchemaDocument, payload []byte) error
}

// Service gates modules per tenant and owns their settings.
type Service struct {
	repo      Repository
	validator SchemaValidator
}

// New constructs a Service.
func New(repo Repository, validator SchemaValidator) *Service {
	if repo == nil {
		panic("modules repo is required")
	}
	if validator == nil {
		panic("schema validator is required")
	}
	return &Service{repo: repo, validator: validator}
}

// ListModules returns the whole catalog with the tenant's enablement. Modules without a
// stored row are disabled.
func (s *Service) ListModules(ctx context.Context, tenantID string) ([]ModuleStatus, error) {
	rows, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant modules: %w", err)
	}

	enabled := make(map[string]bool, len(rows))
	for _, row := range rows {
		enabled[row.ModuleID] = row.Enabled
	}

	out := make([]ModuleStatus, 0, len(catalog))
	for _, m := range Catalog() {
		out = append(out, ModuleStatus{Module: m, Enabled: enabled[m.ID]})
	}
	return out, nil
}

// IsModuleEnabled is true only when a stored row is enabled. Unknown ids and empty tenants are false.
func (s *Service) IsModuleEnabled(ctx context.Context, tenantID, moduleID string) (bool, error) {
	id, ok := CanonicalModuleID(moduleID)
	if !ok || tenantID == "" {
		return false, nil
	}
	return s.repo.IsEnabled(ctx, tenantID, id)
}

// Status returns the catalog entry of a module joined with the tenant's state.
func (s *Service) Status(ctx context.Context, tenantID, moduleID string) (ModuleStatus, error) {
	m, ok := Lookup(moduleID)
	if !ok {
		return ModuleStatus{}, ErrUnknownModule
	}
	enabled, err := s.IsModuleEnabled(ctx, tenantID, m.ID)
	if err != nil {
		return ModuleStatus{}, err
	}
	return ModuleStatus{Module: m, Enabled: enabled}, nil
}

// SetModuleEnabled toggles a module for the tenant.
func (s *Service) SetModuleEnabled(ctx context.Context, tenantID, moduleID string, enabled bool) (ModuleStatus, error) {
	m, ok := Lookup(moduleID)
	if !ok {
		return ModuleStatus{}, ErrUnknownModule
	}
	row, err := s.repo.SetEnabled(ctx, tenantID, m.ID, enabled)
	if err != nil {
		return ModuleStatus{}, mapPersistenceError(err)
	}
	return ModuleStatus{Module: m, Enabled: row.Enabled}, nil
}

// Settings returns the typed settings of a module with defaults applied.
func (s *Service) Settings(ctx context.Context, tenantID, moduleID string) (any, error) {
	id, ok := CanonicalModuleID(moduleID)
	if !ok {
		return nil, ErrUnknownModule
	}

	row, err := s.repo.Get(ctx, tenantID, id)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	return withDefaults(id, row.Settings)
}

// UpdateSettings validates payload against the module schema and replaces the stored document.
// Appointment business hours are owned by the availability table and cannot be written here.
func (s *Service) UpdateSettings(ctx context.Context, tenantID, moduleID string, payload []byte) (any, error) {
	id, ok := CanonicalModuleID(moduleID)
	if !ok {
		return nil, ErrUnknownModule
	}

	if err := s.validate(ctx, id, payload); err != nil {
		return nil, err
	}

	row, err := s.repo.UpdateSettings(ctx, tenantID, id, func(json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return withDefaults(id, row.Settings)
}

func (s *Service) validate(ctx context.Context, moduleID string, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 || !json.Valid(payload) {
		return &ValidationError{Fields: FieldErrors{"settings": {"settings must be a JSON object"}}}
	}

	definition, err := schemaFor(moduleID)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", moduleID, err)
	}

	err = s.validator.Validate(ctx, persistence.SchemaDocument{Key: "module-settings/" + moduleID, Definition: definition}, payload)
	if err != nil {
		var violation *persistence.SchemaViolationError
		if errors.As(err, &violation) {
			return &ValidationError{Fields: FieldErrors(violation.Fields)}
		}
		return err
	}

	if moduleID != ModuleAppointments {
		return nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return &ValidationError{Fields: FieldErrors{"settings": {"settings must be a JSON object"}}}
	}
	if _, ok := doc["businessHours"]; ok {
		return &ValidationError{Fields: FieldErrors{"businessHours": {"business hours are managed through /appointments/business-hours"}}}
	}

	settings, err := DecodeAppointmentsSettings(payload)
	if err != nil {
		return &ValidationError{Fields: FieldErrors{"settings": {err.Error()}}}
	}
	fields := FieldErrors{}
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		fields.add("timezone", "timezone must be an IANA zone name")
	}
	for i, w := range settings.Breaks {
		if w.Start >= w.End {
			fields.add(fmt.Sprintf("breaks/%d", i), "start must be before end")
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// mapPersistenceError translates store sentinels into the errors handlers map to problems.
func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
