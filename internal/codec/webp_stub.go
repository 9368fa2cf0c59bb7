//go:build !govips || !cgo

package codec

import (
	"fmt"
	"image"
	"io"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func encodeWebP(io.Writer, image.Image, int) error {
	return fmt.Errorf("%w: webp export requires the govips build tag", ErrUnsupportedFormat)
}
