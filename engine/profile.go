// Package engine fingerprints the execution substrate and defines the
// pluggable Wasm engine boundary used by the cache and invocation pipeline.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CPUPolicy selects between native code generation and a portable
// interpreter, participating in the engine profile fingerprint.
type CPUPolicy string

const (
	CPUPolicyNative   CPUPolicy = "native"
	CPUPolicyBaseline CPUPolicy = "baseline"
)

// Profile fingerprints the execution substrate: engine version, target
// triple, CPU policy and a caller-chosen fingerprint tag. Two profiles
// constructed from equal inputs always carry equal IDs.
type Profile struct {
	EngineVersion     string
	TargetTriple      string
	CPUPolicy         CPUPolicy
	ConfigFingerprint string
	ID                string
}

// FromEngine derives a Profile, computing its ID deterministically from
// the supplied fields. Call once at host boot; the result is immutable.
func FromEngine(engineVersion, targetTriple string, cpuPolicy CPUPolicy, configFingerprint string) Profile {
	h := sha256.New()
	h.Write([]byte(engineVersion))
	h.Write([]byte{0})
	h.Write([]byte(targetTriple))
	h.Write([]byte{0})
	h.Write([]byte(cpuPolicy))
	h.Write([]byte{0})
	h.Write([]byte(configFingerprint))
	return Profile{
		EngineVersion:     engineVersion,
		TargetTriple:      targetTriple,
		CPUPolicy:         cpuPolicy,
		ConfigFingerprint: configFingerprint,
		ID:                "sha256:" + hex.EncodeToString(h.Sum(nil)),
	}
}

// ArtifactKey is the opaque cache key: an engine profile id paired with a
// content digest. Keys compare by value only.
type ArtifactKey struct {
	EngineProfileID string
	ContentDigest   string
}

// NewArtifactKey builds an ArtifactKey from a profile id and content digest.
func NewArtifactKey(profileID, digest string) ArtifactKey {
	return ArtifactKey{EngineProfileID: profileID, ContentDigest: digest}
}

// MangledDigest returns the content digest with ':' replaced by '_' so it is
// safe to use as a filename component on every target filesystem.
func (k ArtifactKey) MangledDigest() string {
	return strings.ReplaceAll(k.ContentDigest, ":", "_")
}
