package models

import "time"

// ReferenceType classifies an external identifier.
type ReferenceType string

// Reference type constants.
const (
	ReferenceTypeARN        ReferenceType = "arn"
	ReferenceTypeResourceID ReferenceType = "resource_id"
	ReferenceTypeK8s        ReferenceType = "k8s_reference"
	ReferenceTypeGCP        ReferenceType = "gcp_resource"
	ReferenceTypeAzure      ReferenceType = "azure_resource"
)

// Node is a single resource declaration inside a scan graph.
type Node struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"` // e.g. aws_s3_bucket
	Name      string            `json:"name"`
	Namespace string            `json:"namespace,omitempty"`
	FilePath  string            `json:"file_path,omitempty"`
	LineStart int               `json:"line_start,omitempty"`
	LineEnd   int               `json:"line_end,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Edge is a directed dependency between two nodes of a scan graph.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"` // node ID
	Target string `json:"target"` // node ID
	Type   string `json:"type,omitempty"`
}

// Graph is one repository scan: nodes and directed dependency edges.
type Graph struct {
	Nodes    map[string]*Node `json:"nodes"`
	Edges    map[string]*Edge `json:"edges"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Reference is one normalized external identifier extracted from a node.
type Reference struct {
	ExternalID      string            `json:"external_id"`
	ReferenceType   ReferenceType     `json:"reference_type"`
	NormalizedID    string            `json:"normalized_id"`
	Components      map[string]string `json:"components,omitempty"`
	SourceAttribute string            `json:"source_attribute,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

// ExternalObjectEntry is one row of the inverted external-object index:
// a normalized external identifier mapped back to the declaring node.
// (tenant, repository, scan, node, external id) is unique.
type ExternalObjectEntry struct {
	ID            string            `json:"id"`
	ExternalID    string            `json:"external_id"`
	ReferenceType ReferenceType     `json:"reference_type"`
	NormalizedID  string            `json:"normalized_id"`
	TenantID      string            `json:"tenant_id"`
	RepositoryID  string            `json:"repository_id"`
	ScanID        string            `json:"scan_id"`
	NodeID        string            `json:"node_id"`
	NodeName      string            `json:"node_name,omitempty"`
	NodeType      string            `json:"node_type,omitempty"`
	FilePath      string            `json:"file_path,omitempty"`
	Components    map[string]string `json:"components,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	IndexedAt     time.Time         `json:"indexed_at"`
}

// EntryFilter narrows external-object queries.
type EntryFilter struct {
	RepositoryID  string        `json:"repository_id,omitempty"`
	ScanID        string        `json:"scan_id,omitempty"`
	ReferenceType ReferenceType `json:"reference_type,omitempty"`
	Limit         int           `json:"limit,omitempty"`
	Offset        int           `json:"offset,omitempty"`
}
