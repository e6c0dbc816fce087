// Package optimize generates size-bounded preview thumbnails for batches
// of source images, with concurrency limits and resource-tracked outputs.
package optimize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"go.uber.org/zap"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the longer thumbnail edge.
	DefaultMaxDimension = 128
	// DefaultQuality is the JPEG re-encode quality.
	DefaultQuality = 65
)

// GeneratorConfig configures thumbnail output.
type GeneratorConfig struct {
	// MaxDimension is the upper bound on both output dimensions;
	// aspect ratio is preserved.
	MaxDimension int
	// Quality is the JPEG encode quality (1-100).
	Quality int
}

// DefaultGeneratorConfig returns the default thumbnail parameters.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

// Thumbnail is one generated preview. Data is JPEG-encoded; its byte
// size is encoder-dependent and not stable across platforms.
type Thumbnail struct {
	Data           []byte
	Width          int
	Height         int
	OriginalBytes  int64
	ThumbnailBytes int64
}

// Generator produces thumbnails through a decode, scale, re-encode
// pipeline.
type Generator struct {
	config GeneratorConfig
	logger *zap.Logger
}

// NewGenerator creates a Generator. Zero config fields fall back to
// defaults.
func NewGenerator(config GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = DefaultMaxDimension
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &Generator{config: config, logger: logger}
}

// Generate decodes the source image, scales it to fit the configured
// maximum dimension preserving aspect ratio, and re-encodes it as JPEG.
func (g *Generator) Generate(path string) (*Thumbnail, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not accessible: %w", err)
	}

	img, err := g.decode(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	thumb := imaging.Fit(img, g.config.MaxDimension, g.config.MaxDimension, imaging.Lanczos)
	bounds := thumb.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: g.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	g.logger.Debug("thumbnail generated",
		zap.String("path", path),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("bytes", buf.Len()),
	)

	return &Thumbnail{
		Data:           buf.Bytes(),
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		OriginalBytes:  info.Size(),
		ThumbnailBytes: int64(buf.Len()),
	}, nil
}

func (g *Generator) decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	g.logger.Debug("imaging.Open failed, trying standard decode", zap.String("path", path), zap.Error(err))

	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, openErr
	}
	defer file.Close()

	img, _, decodeErr := image.Decode(file)
	if decodeErr != nil {
		return nil, fmt.Errorf("all decode methods failed: %w", err)
	}
	return img, nil
}
