package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/webinv/pixelshape/internal/raster"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const DefaultQuality = 80

type Options struct {
	// Quality applies to lossy formats, 1-100. Zero selects DefaultQuality.
	Quality int
}

func (o Options) quality() int {
	if o.Quality <= 0 || o.Quality > 100 {
		return DefaultQuality
	}
	return o.Quality
}

// Decode reads an encoded image into a new buffer.
func Decode(r io.Reader) (*raster.Buffer, Format, error) {
	img, name, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	format, err := ParseFormat(name)
	if err != nil {
		return nil, "", err
	}

	buf, err := raster.FromImage(img)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return buf, format, nil
}

// DecodeConfig reports dimensions and format without decoding pixels.
func DecodeConfig(data []byte) (image.Config, Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image config: %w", err)
	}
	format, err := ParseFormat(name)
	if err != nil {
		return image.Config{}, "", err
	}
	return cfg, format, nil
}

func Open(path string) (*raster.Buffer, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf, format, err := Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return buf, format, nil
}

func Encode(w io.Writer, buf *raster.Buffer, format Format, opts Options) error {
	if buf.Released() {
		return fmt.Errorf("encode %s: buffer released", format)
	}
	img := buf.Image()

	switch format {
	case JPEG:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: opts.quality()}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	case PNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	case GIF:
		if err := gif.Encode(w, img, nil); err != nil {
			return fmt.Errorf("encode gif: %w", err)
		}
	case BMP:
		if err := bmp.Encode(w, img); err != nil {
			return fmt.Errorf("encode bmp: %w", err)
		}
	case TIFF:
		if err := tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
			return fmt.Errorf("encode tiff: %w", err)
		}
	case WebP:
		return encodeWebP(w, img, opts.quality())
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return nil
}

func EncodeBytes(buf *raster.Buffer, format Format, opts Options) ([]byte, error) {
	var out bytes.Buffer
	if err := Encode(&out, buf, format, opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Save writes buf to path in the format named by its extension. The file is
// only created once the format is known.
func Save(path string, buf *raster.Buffer, opts Options) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	data, err := EncodeBytes(buf, format, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
