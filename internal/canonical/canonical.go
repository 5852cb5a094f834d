// Package canonical computes the idempotency digest for asset job
// submissions. Two submissions with semantically identical inputs must map to
// the same digest regardless of prompt key order or reference ordering, and
// any semantic difference (including a changed lore snapshot) must change it.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lorekeeper/internal/domain"
)

// References holds the lore IDs a job is derived from.
type References struct {
	ClaimIDs       []uuid.UUID
	EntityIDs      []uuid.UUID
	SourceChunkIDs []uuid.UUID
	SourceID       *uuid.UUID
}

// Snapshot freezes the update timestamps of referenced lore at submission
// time, keyed by ID. It makes the digest sensitive to lore drift: editing a
// referenced claim after submission yields a different digest next time.
type Snapshot struct {
	Claims       map[string]string `json:"claims"`
	Entities     map[string]string `json:"entities"`
	SourceChunks map[string]string `json:"source_chunks"`
}

// Input is the full set of semantic inputs hashed into the digest.
type Input struct {
	WorldID    uuid.UUID
	AssetType  domain.AssetType
	Provider   string
	ModelID    string
	PromptSpec map[string]any
	References References
	Snapshot   Snapshot
}

// canonicalRefs serializes scope and reference IDs. Field tags are in
// alphabetical order so the serialization matches sorted-key JSON.
type canonicalRefs struct {
	AssetType      string   `json:"asset_type"`
	ClaimIDs       []string `json:"claim_ids"`
	EntityIDs      []string `json:"entity_ids"`
	ModelID        *string  `json:"model_id"`
	Provider       string   `json:"provider"`
	SourceChunkIDs []string `json:"source_chunk_ids"`
	SourceID       *string  `json:"source_id"`
	WorldID        string   `json:"world_id"`
}

// Digest returns the hex SHA-256 digest of the canonicalized input.
//
// Canonicalization: compact JSON with recursively sorted object keys for the
// prompt spec (json.Marshal sorts map keys at every level), sorted and
// deduplicated reference ID arrays, and the lore snapshot; the three
// serialized components are joined with "|" separators before hashing.
func Digest(in Input) (string, error) {
	prompt, err := json.Marshal(in.PromptSpec)
	if err != nil {
		return "", fmt.Errorf("canonicalize prompt spec: %w", err)
	}

	refs := canonicalRefs{
		AssetType:      string(in.AssetType),
		ClaimIDs:       SortedIDStrings(in.References.ClaimIDs),
		EntityIDs:      SortedIDStrings(in.References.EntityIDs),
		Provider:       in.Provider,
		SourceChunkIDs: SortedIDStrings(in.References.SourceChunkIDs),
		WorldID:        in.WorldID.String(),
	}
	if in.ModelID != "" {
		m := in.ModelID
		refs.ModelID = &m
	}
	if in.References.SourceID != nil {
		s := in.References.SourceID.String()
		refs.SourceID = &s
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("canonicalize references: %w", err)
	}

	snapshot := in.Snapshot
	if snapshot.Claims == nil {
		snapshot.Claims = map[string]string{}
	}
	if snapshot.Entities == nil {
		snapshot.Entities = map[string]string{}
	}
	if snapshot.SourceChunks == nil {
		snapshot.SourceChunks = map[string]string{}
	}
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}

	var b strings.Builder
	b.Write(prompt)
	b.WriteByte('|')
	b.Write(refsJSON)
	b.WriteByte('|')
	b.Write(snapJSON)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// SortedIDs returns ids sorted and deduplicated. Reference sets are stored
// and hashed in this normalized form.
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// SortedIDStrings is SortedIDs rendered to strings. Always non-nil so empty
// sets serialize as [] rather than null.
func SortedIDStrings(ids []uuid.UUID) []string {
	sorted := SortedIDs(ids)
	out := make([]string, len(sorted))
	for i, id := range sorted {
		out[i] = id.String()
	}
	return out
}
