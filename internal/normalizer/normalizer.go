package normalizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// MaxDimension bounds both axes of an uploaded image.
	MaxDimension = 1000
	// JPEGQuality is used whenever an image has to be re-encoded.
	JPEGQuality = 70
	// OutputMIMEType is the MIME type of re-encoded images.
	OutputMIMEType = "image/jpeg"
	// MaxPixels bounds the declared pixel count of an image that will be
	// fully decoded.
	MaxPixels = 50_000_000
)

// ErrDecodeFailed reports input that could not be interpreted as an image.
var ErrDecodeFailed = errors.New("image decode failed")

// Normalizer downsizes oversized images before upload.
type Normalizer struct {
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger.Named("normalizer")}
}

// Normalize returns src unchanged when it already fits within MaxDimension,
// otherwise a JPEG scaled uniformly so that its longer side equals MaxDimension.
func (n *Normalizer) Normalize(ctx context.Context, src SourceImage) (*NormalizedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrDecodeFailed)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecodeFailed, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		n.logger.Warn("image rejected, too many pixels",
			zap.String("filename", src.Filename),
			zap.Int("width", cfg.Width),
			zap.Int("height", cfg.Height),
		)
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecodeFailed, cfg.Width, cfg.Height, MaxPixels)
	}

	outW, outH := TargetSize(cfg.Width, cfg.Height, MaxDimension)
	if outW == cfg.Width && outH == cfg.Height {
		mimeType := src.MIMEType
		if mimeType == "" {
			mimeType = "image/" + format
		}
		n.logger.Debug("image within bounds, passing through",
			zap.String("filename", src.Filename),
			zap.String("origin", string(src.Origin)),
			zap.Int("width", cfg.Width),
			zap.Int("height", cfg.Height),
		)
		return &NormalizedImage{
			Data:     src.Data,
			MIMEType: mimeType,
			Width:    cfg.Width,
			Height:   cfg.Height,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(outW), uint(outH), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	n.logger.Info("image downscaled",
		zap.String("filename", src.Filename),
		zap.String("origin", string(src.Origin)),
		zap.String("format", format),
		zap.Int("source_width", cfg.Width),
		zap.Int("source_height", cfg.Height),
		zap.Int("width", outW),
		zap.Int("height", outH),
		zap.Int("bytes", buf.Len()),
	)

	return &NormalizedImage{
		Data:     buf.Bytes(),
		MIMEType: OutputMIMEType,
		Width:    outW,
		Height:   outH,
		Resized:  true,
	}, nil
}

// TargetSize computes the dimensions after fitting width x height into a
// limit x limit box with a single scale factor. Sizes already inside the box are
// returned unchanged.
func TargetSize(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}
	longest := width
	if height > longest {
		longest = height
	}
	scale := float64(limit) / float64(longest)

	outW := int(math.Round(float64(width) * scale))
	outH := int(math.Round(float64(height) * scale))
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
