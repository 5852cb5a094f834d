package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorekeeper/internal/domain"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	syn := NewSyntheticGenerator()
	r.Register("synthetic", syn)

	got, err := r.Resolve("synthetic")
	require.NoError(t, err)
	assert.Same(t, syn, got)

	_, err = r.Resolve("sora")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "PROVIDER_UNKNOWN", perr.Code)
	assert.False(t, perr.Transient)
}

func TestSyntheticDeterministic(t *testing.T) {
	g := NewSyntheticGenerator()
	req := GenerateRequest{
		WorldID:    "world-1",
		AssetType:  domain.AssetTypeImage,
		PromptSpec: map[string]any{"description": "dragon"},
	}

	first, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, "png", first.Format)
	assert.Equal(t, "image/png", first.ContentType)

	req.PromptSpec = map[string]any{"description": "wyvern"}
	third, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Data, third.Data)
}

func TestSyntheticPerAssetType(t *testing.T) {
	g := NewSyntheticGenerator()
	cases := map[domain.AssetType]string{
		domain.AssetTypeImage: "image/png",
		domain.AssetTypeMap:   "image/png",
		domain.AssetTypeVideo: "video/mp4",
		domain.AssetTypeAudio: "audio/mpeg",
		domain.AssetTypePDF:   "application/pdf",
	}
	for assetType, contentType := range cases {
		got, err := g.Generate(context.Background(), GenerateRequest{
			WorldID:    "world-1",
			AssetType:  assetType,
			PromptSpec: map[string]any{"description": "x"},
		})
		require.NoError(t, err, assetType)
		assert.Equal(t, contentType, got.ContentType, assetType)
		assert.NotEmpty(t, got.Data, assetType)
	}

	_, err := g.Generate(context.Background(), GenerateRequest{AssetType: "HOLOGRAM"})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Transient)
}
