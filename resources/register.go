package resources

import "github.com/goliatone/go-ocpi/sync"

// Register binds every resource type of this package to its OCPI module.
func Register(catalog *sync.Catalog) *sync.Catalog {
	if catalog == nil {
		catalog = sync.NewCatalog()
	}
	sync.Register[Connector](catalog, ModuleConnectors)
	sync.Register[Session](catalog, ModuleSessions)
	sync.Register[Tariff](catalog, ModuleTariffs)
	sync.Register[Token](catalog, ModuleTokens)
	sync.Register[CDR](catalog, ModuleCDRs)
	return catalog
}

// Modules lists the module identifiers Register binds.
func Modules() []string {
	return []string{ModuleCDRs, ModuleConnectors, ModuleSessions, ModuleTariffs, ModuleTokens}
}
