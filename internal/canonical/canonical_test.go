package canonical

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorekeeper/internal/domain"
)

func baseInput(t *testing.T) Input {
	t.Helper()
	return Input{
		WorldID:   uuid.MustParse("00000000-0000-0000-0000-00000000aaaa"),
		AssetType: domain.AssetTypeVideo,
		Provider:  "sora",
		ModelID:   "sora-2",
		PromptSpec: map[string]any{
			"description": "dragon",
			"style":       map[string]any{"palette": "dusk", "mood": "ominous"},
		},
		References: References{
			ClaimIDs:  []uuid.UUID{uuid.MustParse("00000000-0000-0000-0000-000000000003")},
			EntityIDs: []uuid.UUID{uuid.MustParse("00000000-0000-0000-0000-000000000007")},
		},
		Snapshot: Snapshot{
			Claims: map[string]string{
				"00000000-0000-0000-0000-000000000003": "2026-01-02T03:04:05Z",
			},
			Entities: map[string]string{
				"00000000-0000-0000-0000-000000000007": "2026-01-01T00:00:00Z",
			},
		},
	}
}

func TestDigestStable(t *testing.T) {
	in := baseInput(t)
	first, err := Digest(in)
	require.NoError(t, err)
	second, err := Digest(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestDigestIgnoresReferenceOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	in1 := baseInput(t)
	in1.References.EntityIDs = []uuid.UUID{a, b}
	in2 := baseInput(t)
	in2.References.EntityIDs = []uuid.UUID{b, a}

	d1, err := Digest(in1)
	require.NoError(t, err)
	d2, err := Digest(in2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestDigestDeduplicatesReferences(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	in1 := baseInput(t)
	in1.References.ClaimIDs = []uuid.UUID{a, a}
	in2 := baseInput(t)
	in2.References.ClaimIDs = []uuid.UUID{a}

	d1, err := Digest(in1)
	require.NoError(t, err)
	d2, err := Digest(in2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestDigestSensitivity(t *testing.T) {
	base, err := Digest(baseInput(t))
	require.NoError(t, err)

	t.Run("prompt change", func(t *testing.T) {
		in := baseInput(t)
		in.PromptSpec["description"] = "wyvern"
		d, err := Digest(in)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})

	t.Run("extra reference", func(t *testing.T) {
		in := baseInput(t)
		in.References.ClaimIDs = append(in.References.ClaimIDs,
			uuid.MustParse("00000000-0000-0000-0000-000000000009"))
		d, err := Digest(in)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})

	t.Run("snapshot drift", func(t *testing.T) {
		in := baseInput(t)
		in.Snapshot.Claims["00000000-0000-0000-0000-000000000003"] = "2026-02-01T00:00:00Z"
		d, err := Digest(in)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})

	t.Run("model change", func(t *testing.T) {
		in := baseInput(t)
		in.ModelID = "sora-1"
		d, err := Digest(in)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})

	t.Run("source reference", func(t *testing.T) {
		in := baseInput(t)
		src := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
		in.References.SourceID = &src
		d, err := Digest(in)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})
}

func TestSortedIDs(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	got := SortedIDs([]uuid.UUID{a, b, a})
	require.Len(t, got, 2)
	assert.Equal(t, b, got[0])
	assert.Equal(t, a, got[1])
}
