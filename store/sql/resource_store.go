package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ocpisync "github.com/goliatone/go-ocpi/sync"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ResourceStore struct {
	db   *bun.DB
	repo repository.Repository[*resourceRecord]
}

func NewResourceStore(db *bun.DB) (*ResourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*resourceRecord](db, resourceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid resource repository wiring: %w", err)
		}
	}
	return &ResourceStore{db: db, repo: repo}, nil
}

func (s *ResourceStore) Get(ctx context.Context, key ocpisync.ResourceKey) (ocpisync.StoredResource, error) {
	if s == nil || s.repo == nil {
		return ocpisync.StoredResource{}, fmt.Errorf("sqlstore: resource store is not configured")
	}
	key = normalizeResourceKey(key)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("module", "=", key.Module),
		repository.SelectBy("country_code", "=", key.CountryCode),
		repository.SelectBy("party_id", "=", key.PartyID),
		repository.SelectBy("resource_id", "=", key.ID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ocpisync.StoredResource{}, err
	}
	if len(records) == 0 {
		return ocpisync.StoredResource{}, ocpisync.ResourceNotFound(key)
	}
	return records[0].toDomain(), nil
}

func (s *ResourceStore) Put(ctx context.Context, resource ocpisync.StoredResource) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: resource store is not configured")
	}
	key := normalizeResourceKey(resource.Key)
	if key.Module == "" || key.ID == "" {
		return fmt.Errorf("sqlstore: resource module and id are required")
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findResourceTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			record := &resourceRecord{
				ID:          uuid.NewString(),
				Module:      key.Module,
				CountryCode: key.CountryCode,
				PartyID:     key.PartyID,
				ResourceID:  key.ID,
				Document:    string(resource.Document),
				ETag:        resource.ETag,
				LastUpdated: resource.LastUpdated.UTC(),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			_, err := s.repo.CreateTx(ctx, tx, record)
			return err
		}
		_, err = tx.NewUpdate().
			Model((*resourceRecord)(nil)).
			Set("document = ?", string(resource.Document)).
			Set("etag = ?", resource.ETag).
			Set("last_updated = ?", resource.LastUpdated.UTC()).
			Set("updated_at = ?", now).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return err
	})
}

func (s *ResourceStore) Delete(ctx context.Context, key ocpisync.ResourceKey) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: resource store is not configured")
	}
	key = normalizeResourceKey(key)
	result, err := s.db.NewDelete().
		Model((*resourceRecord)(nil)).
		Where("module = ?", key.Module).
		Where("country_code = ?", key.CountryCode).
		Where("party_id = ?", key.PartyID).
		Where("resource_id = ?", key.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return ocpisync.ResourceNotFound(key)
	}
	return nil
}

func (s *ResourceStore) List(ctx context.Context, module string, countryCode string, partyID string) ([]ocpisync.StoredResource, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: resource store is not configured")
	}
	key := normalizeResourceKey(ocpisync.ResourceKey{Module: module, CountryCode: countryCode, PartyID: partyID})
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("module", "=", key.Module),
		repository.SelectBy("country_code", "=", key.CountryCode),
		repository.SelectBy("party_id", "=", key.PartyID),
		repository.OrderBy("resource_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]ocpisync.StoredResource, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (r *resourceRecord) toDomain() ocpisync.StoredResource {
	return ocpisync.StoredResource{
		Key: ocpisync.ResourceKey{
			Module:      r.Module,
			CountryCode: r.CountryCode,
			PartyID:     r.PartyID,
			ID:          r.ResourceID,
		},
		Document:    json.RawMessage(r.Document),
		ETag:        r.ETag,
		LastUpdated: r.LastUpdated.UTC(),
	}
}

func normalizeResourceKey(key ocpisync.ResourceKey) ocpisync.ResourceKey {
	return ocpisync.ResourceKey{
		Module:      strings.ToLower(strings.TrimSpace(key.Module)),
		CountryCode: strings.ToUpper(strings.TrimSpace(key.CountryCode)),
		PartyID:     strings.ToUpper(strings.TrimSpace(key.PartyID)),
		ID:          strings.TrimSpace(key.ID),
	}
}

func findResourceTx(ctx context.Context, tx bun.Tx, key ocpisync.ResourceKey) (*resourceRecord, error) {
	record := &resourceRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.module = ?", key.Module).
		Where("?TableAlias.country_code = ?", key.CountryCode).
		Where("?TableAlias.party_id = ?", key.PartyID).
		Where("?TableAlias.resource_id = ?", key.ID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}
