package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"lorekeeper/internal/domain"
)

// SyntheticGenerator produces deterministic artifacts locally, without any
// external call. It keeps the worker fully operational in development and CI:
// the same prompt always yields the same bytes, so idempotency and checksum
// behavior can be exercised end to end.
type SyntheticGenerator struct{}

// NewSyntheticGenerator constructs the synthetic provider.
func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{}
}

// Generate derives an artifact from a hash of the request.
func (s *SyntheticGenerator) Generate(_ context.Context, req GenerateRequest) (*Artifact, error) {
	seed := sha256.Sum256([]byte(req.WorldID + "|" + string(req.AssetType) + "|" + promptText(req)))

	switch req.AssetType {
	case domain.AssetTypeImage, domain.AssetTypeMap:
		data, err := syntheticPNG(seed)
		if err != nil {
			return nil, Errorf("PROVIDER_RESPONSE", "render synthetic image: %v", err)
		}
		return &Artifact{Data: data, Format: "png", ContentType: "image/png"}, nil
	case domain.AssetTypeVideo:
		return &Artifact{Data: syntheticBytes(seed, 4096), Format: "mp4", ContentType: "video/mp4", DurationSeconds: 8}, nil
	case domain.AssetTypeAudio:
		return &Artifact{Data: syntheticBytes(seed, 2048), Format: "mp3", ContentType: "audio/mpeg", DurationSeconds: 30}, nil
	case domain.AssetTypePDF:
		return &Artifact{Data: syntheticBytes(seed, 1024), Format: "pdf", ContentType: "application/pdf"}, nil
	default:
		return nil, Errorf("PROVIDER_REJECTED", "unsupported asset type %q", req.AssetType)
	}
}

func syntheticPNG(seed [32]byte) ([]byte, error) {
	const size = 64
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill := color.RGBA{R: seed[0], G: seed[1], B: seed[2], A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// syntheticBytes expands the seed into n deterministic bytes by hash chaining.
func syntheticBytes(seed [32]byte, n int) []byte {
	out := make([]byte, 0, n)
	block := seed
	for len(out) < n {
		block = sha256.Sum256(block[:])
		out = append(out, block[:]...)
	}
	return out[:n]
}

var _ Generator = (*SyntheticGenerator)(nil)
