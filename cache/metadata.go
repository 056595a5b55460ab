// Package cache implements the two-tier (in-process + on-disk) compiled
// artifact cache, the contract snapshot cache, and the singleflight
// compile-coalescing layer that composes them.
package cache

import "github.com/wasmrunner/host/engine"

// Metadata is the on-disk sidecar written next to every cached artifact.
type Metadata struct {
	SchemaVersion     int    `json:"schema_version"`
	EngineProfileID   string `json:"engine_profile_id"`
	EngineVersion     string `json:"wasmtime_version"`
	TargetTriple      string `json:"target_triple"`
	CPUPolicy         string `json:"cpu_policy"`
	ConfigFingerprint string `json:"config_fingerprint"`
	ContentDigest     string `json:"content_digest"`
	ArtifactBytes     int64  `json:"artifact_bytes"`
	CreatedAt         int64  `json:"created_at"`
	LastAccessAt      int64  `json:"last_access_at"`
	HitCount          uint64 `json:"hit_count"`
}

// NewMetadata builds a fresh sidecar for an artifact just written, stamping
// both created_at and last_access_at to now.
func NewMetadata(profile engine.Profile, digest string, artifactBytes int64, now int64) Metadata {
	return Metadata{
		SchemaVersion:     1,
		EngineProfileID:   profile.ID,
		EngineVersion:     profile.EngineVersion,
		TargetTriple:      profile.TargetTriple,
		CPUPolicy:         string(profile.CPUPolicy),
		ConfigFingerprint: profile.ConfigFingerprint,
		ContentDigest:     digest,
		ArtifactBytes:     artifactBytes,
		CreatedAt:         now,
		LastAccessAt:      now,
	}
}

// MatchesProfile reports whether this sidecar was written under the given
// profile; a mismatch means the entry is stale and must be treated as a
// cache miss.
func (m Metadata) MatchesProfile(profile engine.Profile) bool {
	return m.SchemaVersion == 1 &&
		m.EngineProfileID == profile.ID &&
		m.EngineVersion == profile.EngineVersion &&
		m.TargetTriple == profile.TargetTriple &&
		m.CPUPolicy == string(profile.CPUPolicy) &&
		m.ConfigFingerprint == profile.ConfigFingerprint
}
