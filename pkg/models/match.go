package models

// MatchDetails records the attribute and values behind a match.
type MatchDetails struct {
	MatchedAttribute string `json:"matched_attribute"`
	SourceValue      string `json:"source_value"`
	TargetValue      string `json:"target_value"`
}

// MatchResult is one scored candidate pair proposed by a matcher.
// Results are symmetric by swap; Canonicalize pins a stable orientation.
type MatchResult struct {
	SourceNodeID string       `json:"source_node_id"`
	SourceRepoID string       `json:"source_repo_id"`
	TargetNodeID string       `json:"target_node_id"`
	TargetRepoID string       `json:"target_repo_id"`
	Strategy     MatcherType  `json:"strategy"`
	Confidence   int          `json:"confidence"` // 0..100
	Details      MatchDetails `json:"details"`
}

// Canonicalize orients the pair so that (SourceRepoID, SourceNodeID) is
// lexicographically smaller than (TargetRepoID, TargetNodeID).
func (m MatchResult) Canonicalize() MatchResult {
	if m.SourceRepoID < m.TargetRepoID {
		return m
	}
	if m.SourceRepoID == m.TargetRepoID && m.SourceNodeID <= m.TargetNodeID {
		return m
	}
	m.SourceNodeID, m.TargetNodeID = m.TargetNodeID, m.SourceNodeID
	m.SourceRepoID, m.TargetRepoID = m.TargetRepoID, m.SourceRepoID
	m.Details.SourceValue, m.Details.TargetValue = m.Details.TargetValue, m.Details.SourceValue
	return m
}

// PairKey identifies the canonical (source, target) pair for deduplication.
func (m MatchResult) PairKey() string {
	c := m.Canonicalize()
	return c.SourceRepoID + "\x00" + c.SourceNodeID + "\x00" + c.TargetRepoID + "\x00" + c.TargetNodeID
}

// Location points at the file range a merged node came from.
type Location struct {
	RepositoryID string `json:"repository_id"`
	File         string `json:"file"`
	LineStart    int    `json:"line_start,omitempty"`
	LineEnd      int    `json:"line_end,omitempty"`
}

// MatchInfo summarizes the matches that produced a merged node.
type MatchInfo struct {
	Strategy   MatcherType `json:"strategy"`
	Confidence int         `json:"confidence"`
	MatchCount int         `json:"match_count"`
}

// MergedNode is one unified node of the merged graph, carrying provenance
// back to every source node it collapsed.
type MergedNode struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	SourceNodeIDs []string       `json:"source_node_ids"`
	SourceRepoIDs []string       `json:"source_repo_ids"`
	Locations     []Location     `json:"locations,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	MatchInfo     MatchInfo      `json:"match_info"`
}

// MergedEdge is a merged-graph-level edge between two merged nodes.
type MergedEdge struct {
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	CrossRepo  bool   `json:"cross_repo"`
	Confidence int    `json:"confidence"`
}

// MergedGraph is the output of one rollup execution.
type MergedGraph struct {
	Nodes map[string]*MergedNode `json:"nodes"`
	Edges []MergedEdge           `json:"edges"`
}
