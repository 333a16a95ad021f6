package sync

import (
	"encoding/json"
	"sort"
	"strings"
	stdsync "sync"
	"time"
)

// Applied is the outcome of a replace or patch on a registered module.
type Applied struct {
	Value    Resource
	ETag     string
	Document json.RawMessage
}

type moduleCodec interface {
	replace(current json.RawMessage, body []byte, allowDowngrades bool) (Applied, error)
	patch(current json.RawMessage, patch []byte, allowDowngrades bool, now time.Time) (Applied, error)
	decode(document json.RawMessage) (Resource, error)
}

// Catalog maps OCPI module identifiers onto their resource types.
type Catalog struct {
	mu     stdsync.RWMutex
	codecs map[string]moduleCodec
}

func NewCatalog() *Catalog {
	return &Catalog{codecs: map[string]moduleCodec{}}
}

// Register binds module to the resource type T. Re-registering a module
// replaces the previous binding.
func Register[T Resource](catalog *Catalog, module string) {
	module = normalizeModule(module)
	if catalog == nil || module == "" {
		return
	}
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	catalog.codecs[module] = typedCodec[T]{}
}

func (c *Catalog) Modules() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.codecs))
	for module := range c.codecs {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Has(module string) bool {
	_, err := c.lookup(module)
	return err == nil
}

// Decode parses a stored document of module into its registered type.
func (c *Catalog) Decode(module string, document json.RawMessage) (Resource, error) {
	codec, err := c.lookup(module)
	if err != nil {
		return nil, err
	}
	return codec.decode(document)
}

func (c *Catalog) lookup(module string) (moduleCodec, error) {
	module = normalizeModule(module)
	if c == nil {
		return nil, unknownModuleError(module)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	codec, ok := c.codecs[module]
	if !ok {
		return nil, unknownModuleError(module)
	}
	return codec, nil
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

type typedCodec[T Resource] struct{}

func (typedCodec[T]) decode(document json.RawMessage) (Resource, error) {
	var value T
	if err := json.Unmarshal(document, &value); err != nil {
		return nil, malformedError(err, "sync: stored document does not decode")
	}
	return value, nil
}

func (typedCodec[T]) replace(current json.RawMessage, body []byte, allowDowngrades bool) (Applied, error) {
	if _, err := decodeObject(body); err != nil {
		return Applied{}, malformedError(err, "sync: body is not a JSON object")
	}
	var next T
	if err := json.Unmarshal(body, &next); err != nil {
		return Applied{}, malformedError(err, "sync: body does not match the resource shape")
	}
	var existing *T
	if len(current) > 0 {
		var stored T
		if err := json.Unmarshal(current, &stored); err != nil {
			return Applied{}, malformedError(err, "sync: stored document does not decode")
		}
		existing = &stored
	}
	result, err := ApplyReplace(existing, next, allowDowngrades)
	if err != nil {
		return Applied{}, err
	}
	return Applied{Value: result.Value, ETag: result.ETag, Document: result.Document}, nil
}

func (typedCodec[T]) patch(current json.RawMessage, patch []byte, allowDowngrades bool, now time.Time) (Applied, error) {
	var stored T
	if err := json.Unmarshal(current, &stored); err != nil {
		return Applied{}, malformedError(err, "sync: stored document does not decode")
	}
	result, err := ApplyPatch(stored, patch, allowDowngrades, now)
	if err != nil {
		return Applied{}, err
	}
	return Applied{Value: result.Value, ETag: result.ETag, Document: result.Document}, nil
}
