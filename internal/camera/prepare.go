package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Prepare shrinks a JPEG to at most maxWidth pixels wide, keeping the aspect
// ratio, and re-encodes it. Frames already narrow enough are returned as is.
func Prepare(frame []byte, maxWidth, quality int) ([]byte, error) {
	if maxWidth <= 0 {
		return frame, nil
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("camera: read jpeg header: %w", err)
	}
	if cfg.Width <= maxWidth {
		return frame, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("camera: decode jpeg: %w", err)
	}

	w, h := fitWidth(cfg.Width, cfg.Height, maxWidth)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("camera: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWidth(width, height, maxWidth int) (int, int) {
	h := int(float64(height) * float64(maxWidth) / float64(width))
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}
