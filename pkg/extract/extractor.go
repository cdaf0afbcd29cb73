package extract

import (
	"strings"

	"github.com/crossgraph/rollup/pkg/models"
)

// Extractor derives external references from a single scan graph node.
// Implementations are stateless and pure; panics are recovered by the
// index build, not here.
type Extractor interface {
	// Name identifies the extractor in logs and build error reports.
	Name() string
	// Extract returns all references the node declares. Nodes without
	// relevant attributes yield an empty slice, not an error.
	Extract(node *models.Node) ([]models.Reference, error)
}

// arnAttributes are the metadata attributes scanned for ARN values.
var arnAttributes = []string{"arn", "role_arn", "target_arn", "source_arn", "kms_key_arn", "execution_arn"}

// ARNExtractor finds Amazon Resource Names in node metadata.
type ARNExtractor struct{}

func (ARNExtractor) Name() string { return "arn" }

func (ARNExtractor) Extract(node *models.Node) ([]models.Reference, error) {
	var refs []models.Reference
	for _, attr := range arnAttributes {
		raw, ok := stringAttr(node.Metadata, attr)
		if !ok || raw == "" {
			continue
		}
		// Stored wildcard patterns are matcher inputs, not indexable IDs.
		if strings.Contains(raw, "*") {
			continue
		}
		normalized, components, err := NormalizeARN(raw)
		if err != nil {
			continue
		}
		refs = append(refs, models.Reference{
			ExternalID:      raw,
			ReferenceType:   models.ReferenceTypeARN,
			NormalizedID:    normalized,
			Components:      components,
			SourceAttribute: attr,
		})
	}
	return refs, nil
}

// idAttributes are the metadata attributes scanned for resource IDs.
var idAttributes = []string{"id", "resource_id", "instance_id", "bucket", "cluster_id"}

// ResourceIDExtractor finds provider resource identifiers in node metadata.
type ResourceIDExtractor struct{}

func (ResourceIDExtractor) Name() string { return "resource_id" }

func (ResourceIDExtractor) Extract(node *models.Node) ([]models.Reference, error) {
	var refs []models.Reference
	for _, attr := range idAttributes {
		raw, ok := stringAttr(node.Metadata, attr)
		if !ok || raw == "" {
			continue
		}
		refs = append(refs, models.Reference{
			ExternalID:      raw,
			ReferenceType:   models.ReferenceTypeResourceID,
			NormalizedID:    NormalizeResourceID(raw),
			SourceAttribute: attr,
		})
	}
	return refs, nil
}

// K8sExtractor builds kind/namespace/name references for Kubernetes nodes.
type K8sExtractor struct{}

func (K8sExtractor) Name() string { return "k8s_reference" }

func (K8sExtractor) Extract(node *models.Node) ([]models.Reference, error) {
	kind, ok := stringAttr(node.Metadata, "kind")
	if !ok || kind == "" {
		// Fall back to the node type, e.g. "kubernetes_deployment" → "deployment".
		kind = strings.TrimPrefix(node.Type, "kubernetes_")
		kind = strings.TrimPrefix(kind, "k8s_")
	}
	if kind == "" || node.Name == "" {
		return nil, nil
	}
	namespace := node.Namespace
	if ns, ok := stringAttr(node.Metadata, "namespace"); ok && ns != "" {
		namespace = ns
	}
	normalized := NormalizeK8sReference(kind, namespace, node.Name)
	return []models.Reference{{
		ExternalID:      normalized,
		ReferenceType:   models.ReferenceTypeK8s,
		NormalizedID:    normalized,
		Components:      map[string]string{"kind": strings.ToLower(kind), "namespace": namespaceOrBlank(namespace), "name": strings.ToLower(node.Name)},
		SourceAttribute: "kind",
	}}, nil
}

func namespaceOrBlank(ns string) string {
	if ns == "" {
		return "_"
	}
	return strings.ToLower(ns)
}

// GCPExtractor finds Google Cloud self-links and resource names.
type GCPExtractor struct{}

func (GCPExtractor) Name() string { return "gcp_resource" }

func (GCPExtractor) Extract(node *models.Node) ([]models.Reference, error) {
	var refs []models.Reference
	for _, attr := range []string{"self_link", "name"} {
		raw, ok := stringAttr(node.Metadata, attr)
		if !ok || raw == "" {
			continue
		}
		if attr == "self_link" && !strings.Contains(raw, "googleapis.com") {
			continue
		}
		refs = append(refs, models.Reference{
			ExternalID:      raw,
			ReferenceType:   models.ReferenceTypeGCP,
			NormalizedID:    strings.TrimSpace(raw),
			SourceAttribute: attr,
		})
	}
	return refs, nil
}

// AzureExtractor finds Azure resource IDs (the /subscriptions/... form).
type AzureExtractor struct{}

func (AzureExtractor) Name() string { return "azure_resource" }

func (AzureExtractor) Extract(node *models.Node) ([]models.Reference, error) {
	raw, ok := stringAttr(node.Metadata, "id")
	if !ok || !strings.HasPrefix(raw, "/subscriptions/") {
		return nil, nil
	}
	return []models.Reference{{
		ExternalID:      raw,
		ReferenceType:   models.ReferenceTypeAzure,
		NormalizedID:    strings.ToLower(strings.TrimSuffix(raw, "/")),
		SourceAttribute: "id",
	}}, nil
}

// stringAttr fetches a string-valued metadata attribute.
func stringAttr(metadata map[string]any, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	v, ok := metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
