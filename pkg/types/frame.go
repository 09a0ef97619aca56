package types

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Placeholder frame geometry used when the camera cannot deliver an image
const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
)

// PlaceholderColor is the solid fill of the placeholder frame (blue)
var PlaceholderColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}

// Frame represents one captured raster with metadata
type Frame struct {
	Width      int       // Frame width in pixels
	Height     int       // Frame height in pixels
	Channels   int       // Bytes per pixel (1 = gray, 3 = RGB, 4 = RGBA)
	Pix        []byte    // Row-major pixel data
	CapturedAt time.Time // Capture timestamp
}

// NewFrame validates a raw buffer against its declared geometry
func NewFrame(width, height, channels int, pix []byte) (Frame, error) {
	if width <= 0 || height <= 0 {
		return Frame{}, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	switch channels {
	case 1, 3, 4:
	default:
		return Frame{}, fmt.Errorf("unsupported channel count %d", channels)
	}
	if want := width * height * channels; len(pix) != want {
		return Frame{}, fmt.Errorf("buffer size mismatch: got %d bytes, want %d (%dx%dx%d)",
			len(pix), want, width, height, channels)
	}
	return Frame{
		Width:      width,
		Height:     height,
		Channels:   channels,
		Pix:        pix,
		CapturedAt: time.Now(),
	}, nil
}

// Placeholder returns the fixed-size solid blue RGB frame
func Placeholder() Frame {
	pix := make([]byte, PlaceholderWidth*PlaceholderHeight*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i] = PlaceholderColor.R
		pix[i+1] = PlaceholderColor.G
		pix[i+2] = PlaceholderColor.B
	}
	return Frame{
		Width:      PlaceholderWidth,
		Height:     PlaceholderHeight,
		Channels:   3,
		Pix:        pix,
		CapturedAt: time.Now(),
	}
}

// Image converts the frame to an RGBA image
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	if len(f.Pix) < n*f.Channels {
		return img
	}
	for i := 0; i < n; i++ {
		src := f.Pix[i*f.Channels:]
		dst := img.Pix[i*4 : i*4+4]
		switch f.Channels {
		case 1:
			dst[0], dst[1], dst[2] = src[0], src[0], src[0]
		case 3:
			dst[0], dst[1], dst[2] = src[0], src[1], src[2]
		case 4:
			dst[0], dst[1], dst[2] = src[0], src[1], src[2]
		}
		dst[3] = 255
	}
	return img
}

// RGB returns the frame as packed 3-channel RGB
func (f Frame) RGB() []byte {
	if f.Channels == 3 {
		return f.Pix
	}
	n := f.Width * f.Height
	out := make([]byte, n*3)
	if len(f.Pix) < n*f.Channels {
		return out
	}
	for i := 0; i < n; i++ {
		src := f.Pix[i*f.Channels:]
		switch f.Channels {
		case 1:
			out[i*3], out[i*3+1], out[i*3+2] = src[0], src[0], src[0]
		default:
			out[i*3], out[i*3+1], out[i*3+2] = src[0], src[1], src[2]
		}
	}
	return out
}
