package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/linkinbio/be/service"
	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type postgresRepository struct {
	links   *persistence.BioLinkStore
	modules *persistence.ModuleStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(links *persistence.BioLinkStore, modules *persistence.ModuleStore) service.Repository {
	if links == nil || modules == nil {
		panic("bio link and module stores are required")
	}
	return &postgresRepository{links: links, modules: modules}
}

func (r *postgresRepository) Settings(ctx context.Context, tenantID string) (json.RawMessage, error) {
	rec, err := r.modules.Get(ctx, tenantID, modulesservice.ModuleLinkInBio)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.Settings, nil
}

func (r *postgresRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]service.Link, error) {
	records, err := r.links.List(ctx, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]service.Link, 0, len(records))
	for _, rec := range records {
		out = append(out, toLink(rec))
	}
	return out, nil
}

func (r *postgresRepository) Create(ctx context.Context, link service.Link) (service.Link, error) {
	rec, err := r.links.Create(ctx, persistence.BioLinkRecord{
		ID:       link.ID,
		TenantID: link.TenantID,
		Title:    link.Title,
		URL:      link.URL,
		Position: link.Position,
		IsActive: link.IsActive,
	})
	if err != nil {
		return service.Link{}, err
	}
	return toLink(rec), nil
}

func (r *postgresRepository) Update(ctx context.Context, tenantID string, id uuid.UUID, params service.UpdateParams) (service.Link, error) {
	rec, err := r.links.Update(ctx, tenantID, id, persistence.UpdateBioLinkParams{
		Title:    params.Title,
		URL:      params.URL,
		Position: params.Position,
		IsActive: params.IsActive,
	})
	if err != nil {
		return service.Link{}, err
	}
	return toLink(rec), nil
}

func (r *postgresRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	return r.links.Delete(ctx, tenantID, id)
}

func toLink(rec persistence.BioLinkRecord) service.Link {
	return service.Link{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Title:     rec.Title,
		URL:       rec.URL,
		Position:  rec.Position,
		IsActive:  rec.IsActive,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}
