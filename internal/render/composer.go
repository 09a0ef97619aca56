// Package render paints monitoring snapshots: title bar, camera frame and
// caption panel, encoded as PNG.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/nao-firewatch/pkg/types"
)

// Annotation is the text painted around the frame
type Annotation struct {
	Title string
	Lines []string
	Alert bool // red panel when set, light green otherwise
}

// Renderer turns a frame and its annotation into an encoded image
type Renderer interface {
	Render(frame types.Frame, a Annotation) ([]byte, error)
}

var (
	titleBackground = color.RGBA{R: 32, G: 32, B: 32, A: 255}
	alertBackground = color.RGBA{R: 220, G: 20, B: 20, A: 255}
	clearBackground = color.RGBA{R: 144, G: 238, B: 144, A: 255}
)

const (
	padding    = 10
	lineHeight = 16
	titleBar   = 30
)

// Composer is the default Renderer
type Composer struct {
	Width int // canvas width; the frame is scaled to fit
	face  font.Face
}

// NewComposer creates a composer with a canvas of the given width
func NewComposer(width int) *Composer {
	if width <= 0 {
		width = types.PlaceholderWidth
	}
	return &Composer{Width: width, face: basicfont.Face7x13}
}

// Render draws the snapshot and returns PNG bytes
func (c *Composer) Render(frame types.Frame, a Annotation) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("render: empty frame %dx%d", frame.Width, frame.Height)
	}

	src := frame.Image()
	frameH := frame.Height * c.Width / frame.Width
	if frameH <= 0 {
		frameH = 1
	}

	lines := c.wrap(a.Lines)
	panelH := 2*padding + len(lines)*lineHeight
	canvas := image.NewRGBA(image.Rect(0, 0, c.Width, titleBar+frameH+panelH))

	// title bar
	titleRect := image.Rect(0, 0, c.Width, titleBar)
	draw.Draw(canvas, titleRect, image.NewUniform(titleBackground), image.Point{}, draw.Src)
	titleColor := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	if a.Alert {
		titleColor = color.RGBA{R: 255, G: 80, B: 80, A: 255}
	}
	c.text(canvas, a.Title, padding, titleBar/2+5, titleColor)

	// frame
	frameRect := image.Rect(0, titleBar, c.Width, titleBar+frameH)
	xdraw.BiLinear.Scale(canvas, frameRect, src, src.Bounds(), draw.Src, nil)

	// caption panel
	bg, fg := clearBackground, color.RGBA{A: 255}
	if a.Alert {
		bg, fg = alertBackground, color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	panelRect := image.Rect(0, titleBar+frameH, c.Width, canvas.Bounds().Dy())
	draw.Draw(canvas, panelRect, image.NewUniform(bg), image.Point{}, draw.Src)
	y := panelRect.Min.Y + padding + 11
	for _, line := range lines {
		c.text(canvas, line, padding, y, fg)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Composer) text(dst draw.Image, s string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// wrap breaks lines on word boundaries to fit the canvas
func (c *Composer) wrap(lines []string) []string {
	advance := font.MeasureString(c.face, "M").Ceil()
	if advance <= 0 {
		advance = 7
	}
	maxChars := (c.Width - 2*padding) / advance
	if maxChars < 1 {
		maxChars = 1
	}

	var out []string
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		cur := ""
		for _, w := range words {
			for len(w) > maxChars {
				if cur != "" {
					out = append(out, cur)
					cur = ""
				}
				out = append(out, w[:maxChars])
				w = w[maxChars:]
			}
			switch {
			case cur == "":
				cur = w
			case len(cur)+1+len(w) <= maxChars:
				cur += " " + w
			default:
				out = append(out, cur)
				cur = w
			}
		}
		if cur != "" {
			out = append(out, cur)
		}
	}
	return out
}
