// Package models defines the domain types shared across the rollup engine:
// rollup configurations, scan graphs, match results, merged nodes, executions,
// and the external object index entries.
package models

import "time"

// RollupStatus represents the lifecycle state of a rollup configuration.
type RollupStatus string

// Rollup status constants.
const (
	RollupStatusDraft     RollupStatus = "draft"
	RollupStatusActive    RollupStatus = "active"
	RollupStatusExecuting RollupStatus = "executing"
	RollupStatusCompleted RollupStatus = "completed"
	RollupStatusFailed    RollupStatus = "failed"
	RollupStatusArchived  RollupStatus = "archived"
)

// Modifiable reports whether a rollup in this status accepts updates.
func (s RollupStatus) Modifiable() bool {
	switch s {
	case RollupStatusDraft, RollupStatusActive, RollupStatusCompleted, RollupStatusFailed:
		return true
	}
	return false
}

// Deletable reports whether a rollup in this status may be deleted.
func (s RollupStatus) Deletable() bool {
	return s == RollupStatusDraft || s == RollupStatusArchived
}

// ConflictResolution selects how the merge engine resolves metadata conflicts.
type ConflictResolution string

// Conflict resolution strategies.
const (
	PreferHigherConfidence ConflictResolution = "preferHigherConfidence"
	PreferFirstSource      ConflictResolution = "preferFirstSource"
	PreferLastSource       ConflictResolution = "preferLastSource"
	UnionValues            ConflictResolution = "union"
)

// KnownConflictResolution reports whether v is a recognized strategy.
func KnownConflictResolution(v ConflictResolution) bool {
	switch v {
	case PreferHigherConfidence, PreferFirstSource, PreferLastSource, UnionValues:
		return true
	}
	return false
}

// MergeOptions controls how matched nodes are collapsed into merged nodes.
type MergeOptions struct {
	ConflictResolution   ConflictResolution `json:"conflict_resolution" yaml:"conflict_resolution"`
	PreserveSourceInfo   bool               `json:"preserve_source_info" yaml:"preserve_source_info"`
	CreateCrossRepoEdges bool               `json:"create_cross_repo_edges" yaml:"create_cross_repo_edges"`
	MaxNodes             int                `json:"max_nodes" yaml:"max_nodes"`
}

// DefaultMergeOptions returns the built-in merge defaults.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		ConflictResolution:   PreferHigherConfidence,
		PreserveSourceInfo:   true,
		CreateCrossRepoEdges: true,
		MaxNodes:             10000,
	}
}

// RollupConfig declares how scan graphs from two or more repositories are
// merged into one unified graph. Owned by exactly one tenant.
type RollupConfig struct {
	ID            string          `json:"rollup_id"`
	TenantID      string          `json:"tenant_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	UpdatedBy     string          `json:"updated_by,omitempty"`
	RepositoryIDs []string        `json:"repository_ids"`
	Matchers      []MatcherConfig `json:"matchers"`
	MergeOptions  MergeOptions    `json:"merge_options"`
	Schedule      string          `json:"schedule,omitempty"` // cron string, validated by field count only
	Status        RollupStatus    `json:"status"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// EnabledMatchers returns the enabled matcher configs in declaration order.
func (r *RollupConfig) EnabledMatchers() []MatcherConfig {
	out := make([]MatcherConfig, 0, len(r.Matchers))
	for _, m := range r.Matchers {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// RepositoryPosition returns the position of repoID in the configured
// repository order, or len(RepositoryIDs) when unknown.
func (r *RollupConfig) RepositoryPosition(repoID string) int {
	for i, id := range r.RepositoryIDs {
		if id == repoID {
			return i
		}
	}
	return len(r.RepositoryIDs)
}

// RollupFilters contains filtering options for listing rollups.
type RollupFilters struct {
	Status   RollupStatus `json:"status,omitempty"`
	Name     string       `json:"name,omitempty"`
	SortBy   string       `json:"sort_by,omitempty"`   // created_at, updated_at, name
	SortDesc bool         `json:"sort_desc,omitempty"` // default ascending
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// RollupListResult contains a paginated rollup list.
type RollupListResult struct {
	Rollups    []*RollupConfig `json:"rollups"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}
