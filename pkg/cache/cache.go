// Package cache implements the two-tier rollup cache: a per-keyspace
// in-process LRU (L1) in front of an optional remote blob cache (L2),
// with tag- and tenant-scoped invalidation and a warming processor.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Keyspace partitions the cache by artifact kind.
type Keyspace string

// Cache keyspaces.
const (
	KeyspaceExecutionResult Keyspace = "execution-result"
	KeyspaceMergedGraph     Keyspace = "merged-graph"
	KeyspaceBlastRadius     Keyspace = "blast-radius"
	KeyspaceIndex           Keyspace = "index"
)

// Keyspaces lists all cache keyspaces.
func Keyspaces() []Keyspace {
	return []Keyspace{KeyspaceExecutionResult, KeyspaceMergedGraph, KeyspaceBlastRadius, KeyspaceIndex}
}

// BlobCache is the remote (L2) cache collaborator contract.
type BlobCache interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a value with a TTL and the given tags.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	// DeleteByTags removes every entry carrying at least one of the tags.
	DeleteByTags(ctx context.Context, tags []string) (int, error)
	// DeleteByPattern removes entries whose key matches a glob pattern.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// DeleteByTenant removes every entry tagged with the tenant.
	DeleteByTenant(ctx context.Context, tenantID string) (int, error)
}

// Key renders the canonical cache key for material within a keyspace:
// "{prefix}:{keyspace}:{tenant}:{sha256(canonical JSON of material)}".
// encoding/json sorts map keys, so map-based material is canonical.
func Key(prefix string, keyspace Keyspace, tenantID string, material any) string {
	payload, err := json.Marshal(material)
	if err != nil {
		// Fall back to the fmt rendering; still deterministic for the
		// value types used as key material.
		payload = []byte(fmt.Sprintf("%v", material))
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%s:%s:%s:%s", prefix, keyspace, tenantID, hex.EncodeToString(sum[:]))
}

// TenantTag renders the tag carried by every entry of a tenant.
func TenantTag(tenantID string) string { return "tenant:" + tenantID }

// RollupTag renders the tag scoping entries to one rollup.
func RollupTag(rollupID string) string { return "rollup:" + rollupID }

// ScanTag renders the tag scoping entries to one scan.
func ScanTag(scanID string) string { return "scan:" + scanID }
