//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initializes libvips for WebP export. It is safe to call repeatedly.
func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// encodeWebP hands libvips a lossless PNG of img and exports it as WebP.
func encodeWebP(w io.Writer, img image.Image, quality int) error {
	if err := Startup(); err != nil {
		return err
	}

	var staged bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&staged, img); err != nil {
		return fmt.Errorf("encode webp: stage png: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return fmt.Errorf("encode webp: load: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = quality
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("encode webp: write: %w", err)
	}
	return nil
}
