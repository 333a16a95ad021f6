package ocpi

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ocpi/core"
)

// ModulePack binds extra resource modules onto a catalog, typically through
// sync.Register.
type ModulePack struct {
	Name     string
	Register func(catalog *Catalog)
}

type VariantPack struct {
	Name     string
	Variants []core.ProtocolVariant
}

type CommandQueryBundleFactory func(service *Service) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	modulePacks  map[string]ModulePack
	variantPacks map[string]VariantPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		modulePacks:  map[string]ModulePack{},
		variantPacks: map[string]VariantPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterModulePack(pack ModulePack) error {
	if h == nil {
		return fmt.Errorf("ocpi: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("ocpi: module pack name is required")
	}
	if pack.Register == nil {
		return fmt.Errorf("ocpi: module pack %q has no register func", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.modulePacks[name]; exists {
		return fmt.Errorf("ocpi: module pack %q already registered", name)
	}
	h.modulePacks[name] = ModulePack{Name: name, Register: pack.Register}
	return nil
}

func (h *ExtensionHooks) RegisterVariantPack(pack VariantPack) error {
	if h == nil {
		return fmt.Errorf("ocpi: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("ocpi: variant pack name is required")
	}
	if len(pack.Variants) == 0 {
		return fmt.Errorf("ocpi: variant pack %q has no variants", name)
	}
	for _, variant := range pack.Variants {
		if variant == nil {
			return fmt.Errorf("ocpi: variant pack %q contains nil variant", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.variantPacks[name]; exists {
		return fmt.Errorf("ocpi: variant pack %q already registered", name)
	}
	h.variantPacks[name] = VariantPack{
		Name:     name,
		Variants: append([]core.ProtocolVariant(nil), pack.Variants...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("ocpi: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("ocpi: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("ocpi: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("ocpi: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyModulePacks runs every module pack against catalog in name order.
func (h *ExtensionHooks) ApplyModulePacks(catalog *Catalog) error {
	if h == nil {
		return nil
	}
	if catalog == nil {
		return fmt.Errorf("ocpi: catalog is required")
	}
	h.mu.RLock()
	names := sortedKeys(h.modulePacks)
	packs := make([]ModulePack, 0, len(names))
	for _, name := range names {
		packs = append(packs, h.modulePacks[name])
	}
	h.mu.RUnlock()

	for _, pack := range packs {
		pack.Register(catalog)
	}
	return nil
}

// ServiceOptions returns the option that installs every registered variant
// pack, in name order, ahead of the default protocol variants. The first
// variant that supports a version wins.
func (h *ExtensionHooks) ServiceOptions() []Option {
	variants := h.Variants()
	if len(variants) == 0 {
		return nil
	}
	return []Option{core.WithProtocolVariants(append(variants, core.DefaultProtocolVariants()...)...)}
}

func (h *ExtensionHooks) Variants() []core.ProtocolVariant {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []core.ProtocolVariant
	for _, name := range sortedKeys(h.variantPacks) {
		out = append(out, h.variantPacks[name].Variants...)
	}
	return out
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service *Service) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("ocpi: service is required")
	}

	h.mu.RLock()
	names := sortedKeys(h.bundles)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
