package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type partyRecord struct {
	bun.BaseModel `bun:"table:ocpi_remote_parties,alias:orp"`

	ID          string    `bun:"id,pk"`
	PartyKey    string    `bun:"party_key,notnull"`
	CountryCode string    `bun:"country_code,notnull"`
	PartyID     string    `bun:"party_id,notnull"`
	Role        string    `bun:"role,notnull"`
	Status      string    `bun:"status,notnull"`
	Document    []byte    `bun:"document,notnull"`
	Encrypted   bool      `bun:"encrypted,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// resourceRecord keeps the canonical document as text so the stored bytes
// hash to the stored etag.
type resourceRecord struct {
	bun.BaseModel `bun:"table:ocpi_resources,alias:ors"`

	ID          string    `bun:"id,pk"`
	Module      string    `bun:"module,notnull"`
	CountryCode string    `bun:"country_code,notnull"`
	PartyID     string    `bun:"party_id,notnull"`
	ResourceID  string    `bun:"resource_id,notnull"`
	Document    string    `bun:"document,notnull"`
	ETag        string    `bun:"etag,notnull"`
	LastUpdated time.Time `bun:"last_updated,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
