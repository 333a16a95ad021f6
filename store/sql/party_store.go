package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-ocpi/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PartyStore persists RemoteParty aggregates as JSON documents, sealed by
// the configured secret provider since they carry access tokens.
type PartyStore struct {
	db      *bun.DB
	repo    repository.Repository[*partyRecord]
	secrets core.SecretProvider
}

// resealer is implemented by secret providers that rotate keys.
type resealer interface {
	NeedsReseal(ciphertext []byte) bool
}

func NewPartyStore(db *bun.DB, secrets core.SecretProvider) (*PartyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*partyRecord](db, partyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid party repository wiring: %w", err)
		}
	}
	return &PartyStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *PartyStore) Load(ctx context.Context) ([]core.RemoteParty, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: party store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("party_key ASC"))
	if err != nil {
		return nil, err
	}
	parties := make([]core.RemoteParty, 0, len(records))
	var stale []core.RemoteParty
	for _, record := range records {
		party, err := s.decode(ctx, record)
		if err != nil {
			return nil, err
		}
		parties = append(parties, party)
		if rotating, ok := s.secrets.(resealer); ok && record.Encrypted && rotating.NeedsReseal(record.Document) {
			stale = append(stale, party)
		}
	}
	for _, party := range stale {
		if err := s.Save(ctx, party); err != nil {
			return nil, fmt.Errorf("sqlstore: reseal party %s: %w", party.ID, err)
		}
	}
	return parties, nil
}

func (s *PartyStore) Save(ctx context.Context, party core.RemoteParty) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: party store is not configured")
	}
	if err := party.ID.Validate(); err != nil {
		return err
	}
	document, encrypted, err := s.encode(ctx, party)
	if err != nil {
		return err
	}
	key := party.ID.Key()
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findPartyTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			record := &partyRecord{
				ID:          uuid.NewString(),
				PartyKey:    key,
				CountryCode: party.ID.CountryCode,
				PartyID:     party.ID.PartyID,
				Role:        string(party.ID.Role),
				Status:      string(party.Status),
				Document:    document,
				Encrypted:   encrypted,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			_, err := s.repo.CreateTx(ctx, tx, record)
			return err
		}
		_, err = tx.NewUpdate().
			Model((*partyRecord)(nil)).
			Set("status = ?", string(party.Status)).
			Set("document = ?", document).
			Set("encrypted = ?", encrypted).
			Set("updated_at = ?", now).
			Where("party_key = ?", key).
			Exec(ctx)
		return err
	})
}

func (s *PartyStore) Delete(ctx context.Context, id core.PartyID) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: party store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*partyRecord)(nil)).
		Where("party_key = ?", id.Key()).
		Exec(ctx)
	return err
}

func (s *PartyStore) encode(ctx context.Context, party core.RemoteParty) ([]byte, bool, error) {
	document, err := json.Marshal(party)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: encode party %s: %w", party.ID, err)
	}
	if s.secrets == nil {
		return document, false, nil
	}
	sealed, err := s.secrets.Encrypt(ctx, document)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: seal party %s: %w", party.ID, err)
	}
	return sealed, true, nil
}

func (s *PartyStore) decode(ctx context.Context, record *partyRecord) (core.RemoteParty, error) {
	document := record.Document
	if record.Encrypted {
		if s.secrets == nil {
			return core.RemoteParty{}, fmt.Errorf("sqlstore: party %s is encrypted and no secret provider is configured", record.PartyKey)
		}
		opened, err := s.secrets.Decrypt(ctx, document)
		if err != nil {
			return core.RemoteParty{}, fmt.Errorf("sqlstore: open party %s: %w", record.PartyKey, err)
		}
		document = opened
	}
	party := core.RemoteParty{}
	if err := json.Unmarshal(document, &party); err != nil {
		return core.RemoteParty{}, fmt.Errorf("sqlstore: decode party %s: %w", record.PartyKey, err)
	}
	if party.ID.Key() != record.PartyKey {
		return core.RemoteParty{}, fmt.Errorf("sqlstore: party document %s does not match key %s", party.ID.Key(), record.PartyKey)
	}
	return party, nil
}

func findPartyTx(ctx context.Context, tx bun.Tx, key string) (*partyRecord, error) {
	record := &partyRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.party_key = ?", key).
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
