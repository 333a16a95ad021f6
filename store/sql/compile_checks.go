package sqlstore

import (
	"github.com/goliatone/go-ocpi/core"
	ocpisync "github.com/goliatone/go-ocpi/sync"
)

var (
	_ core.PartyStore        = (*PartyStore)(nil)
	_ core.PartyStoreFactory = (*RepositoryFactory)(nil)
	_ ocpisync.ResourceStore = (*ResourceStore)(nil)
	_ ocpisync.ResourceStore = (*CachedResourceStore)(nil)
)
