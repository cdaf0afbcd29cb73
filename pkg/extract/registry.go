package extract

import (
	"strings"
	"sync"

	"github.com/crossgraph/rollup/pkg/models"
)

// Registry maps node types to the extractors applicable to them.
// Unknown node types yield no extractors — never an error.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string][]Extractor
}

// NewRegistry returns a registry pre-populated with the built-in
// provider-prefix bindings.
func NewRegistry() *Registry {
	r := &Registry{byPrefix: make(map[string][]Extractor)}
	r.Register("aws_", ARNExtractor{}, ResourceIDExtractor{})
	r.Register("google_", GCPExtractor{}, ResourceIDExtractor{})
	r.Register("azurerm_", AzureExtractor{}, ResourceIDExtractor{})
	r.Register("kubernetes_", K8sExtractor{})
	r.Register("k8s_", K8sExtractor{})
	return r
}

// Register binds extractors to a node-type prefix.
func (r *Registry) Register(typePrefix string, extractors ...Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrefix[typePrefix] = append(r.byPrefix[typePrefix], extractors...)
}

// For returns the extractors applicable to a node type.
func (r *Registry) For(nodeType string) []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, extractors := range r.byPrefix {
		if strings.HasPrefix(nodeType, prefix) {
			return extractors
		}
	}
	return nil
}

// ExtractAll runs every applicable extractor over the node and collects the
// references. The error (if any) reports the first extractor failure; the
// remaining extractors still run.
func (r *Registry) ExtractAll(node *models.Node) ([]models.Reference, error) {
	var refs []models.Reference
	var firstErr error
	for _, ex := range r.For(node.Type) {
		got, err := ex.Extract(node)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		refs = append(refs, got...)
	}
	return refs, firstErr
}

// Process-default registry. Holds no per-tenant state.
var (
	defaultRegistry   *Registry
	defaultRegistryMu sync.Mutex
)

// DefaultRegistry returns the process-scoped registry singleton.
func DefaultRegistry() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefault discards the process-scoped registry. For tests.
func ResetDefault() {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = nil
}
