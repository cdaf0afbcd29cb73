// Package extract provides the external-identifier normalizers and the
// node-to-reference extractors that feed the external object index.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/crossgraph/rollup/pkg/models"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ARNParts is a decomposed Amazon Resource Name.
type ARNParts struct {
	Partition string
	Service   string
	Region    string
	Account   string
	Resource  string
}

// ParseARN decomposes an ARN string. The resource segment keeps any
// embedded colons. Returns an error for strings that are not six-segment
// ARNs starting with "arn".
func ParseARN(raw string) (ARNParts, error) {
	parts := strings.SplitN(raw, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return ARNParts{}, fmt.Errorf("not an ARN: %q", raw)
	}
	return ARNParts{
		Partition: parts[1],
		Service:   parts[2],
		Region:    parts[3],
		Account:   parts[4],
		Resource:  parts[5],
	}, nil
}

// NormalizeARN applies the ARN normalization rules: partition, service, and
// region are lowercased, the resource keeps its case, and a trailing "/" is
// stripped. Returns the normalized ID and the component map.
func NormalizeARN(raw string) (string, map[string]string, error) {
	p, err := ParseARN(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, err
	}
	p.Partition = strings.ToLower(p.Partition)
	p.Service = strings.ToLower(p.Service)
	p.Region = strings.ToLower(p.Region)
	p.Resource = strings.TrimSuffix(p.Resource, "/")

	normalized := fmt.Sprintf("arn:%s:%s:%s:%s:%s", p.Partition, p.Service, p.Region, p.Account, p.Resource)
	components := map[string]string{
		"partition": p.Partition,
		"service":   p.Service,
		"region":    p.Region,
		"account":   p.Account,
		"resource":  p.Resource,
	}
	return normalized, components, nil
}

// providerPrefixes are stripped from resource IDs during normalization.
var providerPrefixes = []string{"aws_", "google_", "azurerm_"}

// NormalizeResourceID strips provider prefixes, lowercases, and replaces
// whitespace runs with a single underscore.
func NormalizeResourceID(raw string) string {
	id := strings.TrimSpace(raw)
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			id = id[len(prefix):]
			break
		}
	}
	id = strings.ToLower(id)
	return whitespaceRun.ReplaceAllString(id, "_")
}

// StripProviderPrefix removes a leading provider prefix without any other
// transformation. Used by the resource-id matcher's prefix-equality rule.
func StripProviderPrefix(raw string) string {
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(strings.ToLower(raw), prefix) {
			return raw[len(prefix):]
		}
	}
	return raw
}

// NormalizeK8sReference renders "{kind}/{namespace|_}/{name}", all lowercase.
// An empty namespace becomes "_".
func NormalizeK8sReference(kind, namespace, name string) string {
	if namespace == "" {
		namespace = "_"
	}
	return strings.ToLower(kind) + "/" + strings.ToLower(namespace) + "/" + strings.ToLower(name)
}

// NormalizeName lowercases (unless caseSensitive) and collapses internal
// whitespace runs to a single space.
func NormalizeName(name string, caseSensitive bool) string {
	n := strings.TrimSpace(name)
	n = whitespaceRun.ReplaceAllString(n, " ")
	if !caseSensitive {
		n = strings.ToLower(n)
	}
	return n
}

// SortedTagKeys returns the tag keys in stable (sorted) order.
func SortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize computes the normalized identifier for an external ID of the
// given reference type. It is the pure function behind
// ExternalObjectEntry.NormalizedID.
func Normalize(externalID string, refType models.ReferenceType) string {
	switch refType {
	case models.ReferenceTypeARN:
		if normalized, _, err := NormalizeARN(externalID); err == nil {
			return normalized
		}
		return strings.TrimSpace(externalID)
	case models.ReferenceTypeResourceID:
		return NormalizeResourceID(externalID)
	case models.ReferenceTypeK8s:
		parts := strings.SplitN(externalID, "/", 3)
		switch len(parts) {
		case 3:
			return NormalizeK8sReference(parts[0], parts[1], parts[2])
		case 2:
			return NormalizeK8sReference(parts[0], "", parts[1])
		default:
			return strings.ToLower(strings.TrimSpace(externalID))
		}
	default:
		return strings.TrimSpace(externalID)
	}
}
