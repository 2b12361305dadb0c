// Package resize produces the downscaled copies published next to an original
// image.
//
// Decoding goes through imaging, so every format registered with the standard
// image package is accepted: JPEG, PNG and GIF from the standard library,
// BMP and TIFF via imaging, and WebP via golang.org/x/image/webp. Images are
// only ever shrunk to fit a square bounding box; aspect ratio is preserved and
// nothing is cropped or enlarged.
package resize

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// Default bounding boxes, in pixels.
const (
	DefaultThumbMaxDimension  = 220
	DefaultMediumMaxDimension = 700
)

// DefaultJPEGQuality matches the quality common image libraries pick when
// none is requested.
const DefaultJPEGQuality = 75

// Options controls the bounding boxes and the encoder.
type Options struct {
	ThumbMaxDimension  int
	MediumMaxDimension int
	JPEGQuality        int
}

// DefaultOptions returns the thumbnail/medium sizes the job publishes.
func DefaultOptions() Options {
	return Options{
		ThumbMaxDimension:  DefaultThumbMaxDimension,
		MediumMaxDimension: DefaultMediumMaxDimension,
		JPEGQuality:        DefaultJPEGQuality,
	}
}

// Output describes one written derivative.
type Output struct {
	Path   string
	Width  int
	Height int
}

// Result is what Derivatives produced for one source image.
type Result struct {
	SourceWidth  int
	SourceHeight int
	Thumb        Output
	Medium       Output
}

// Derivatives decodes srcPath once and writes a medium copy to mediumPath and
// a thumbnail to thumbPath.
//
// The output format follows each destination's extension (a .png source keeps
// producing PNG); unknown or missing extensions are written as JPEG.
func Derivatives(srcPath, thumbPath, mediumPath string, opts Options) (Result, error) {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", srcPath, err)
	}

	bounds := src.Bounds()
	res := Result{SourceWidth: bounds.Dx(), SourceHeight: bounds.Dy()}

	res.Medium, err = writeFit(src, mediumPath, opts.MediumMaxDimension, opts)
	if err != nil {
		return Result{}, fmt.Errorf("medium: %w", err)
	}
	res.Thumb, err = writeFit(src, thumbPath, opts.ThumbMaxDimension, opts)
	if err != nil {
		return Result{}, fmt.Errorf("thumbnail: %w", err)
	}

	log.Debug().
		Str("path", srcPath).
		Int("orig_width", res.SourceWidth).
		Int("orig_height", res.SourceHeight).
		Int("medium_width", res.Medium.Width).
		Int("medium_height", res.Medium.Height).
		Int("thumb_width", res.Thumb.Width).
		Int("thumb_height", res.Thumb.Height).
		Msg("Derivatives generated")

	return res, nil
}

// writeFit shrinks src into a maxDimension square (Lanczos) and encodes it
// to dstPath.
func writeFit(src image.Image, dstPath string, maxDimension int, opts Options) (Output, error) {
	if maxDimension <= 0 {
		return Output{}, fmt.Errorf("invalid max dimension %d", maxDimension)
	}

	// imaging.Fit returns an unscaled clone when src already fits.
	fitted := imaging.Fit(src, maxDimension, maxDimension, imaging.Lanczos)
	if err := encodeFile(fitted, dstPath, opts); err != nil {
		return Output{}, err
	}

	b := fitted.Bounds()
	return Output{Path: dstPath, Width: b.Dx(), Height: b.Dy()}, nil
}

func encodeFile(img image.Image, dstPath string, opts Options) (err error) {
	format, ferr := imaging.FormatFromFilename(dstPath)
	if ferr != nil {
		format = imaging.JPEG
	}

	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dstPath, cerr)
		}
	}()

	err = imaging.Encode(f, img, format,
		imaging.JPEGQuality(quality),
		imaging.PNGCompressionLevel(png.BestCompression),
	)
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
