package types

import (
	"testing"
	"time"
)

func TestNewFrame(t *testing.T) {
	tests := []struct {
		name     string
		w, h, ch int
		size     int
		wantErr  bool
	}{
		{"rgb", 2, 2, 3, 12, false},
		{"gray", 4, 1, 1, 4, false},
		{"rgba", 1, 1, 4, 4, false},
		{"zero width", 0, 2, 3, 0, true},
		{"two channels", 2, 2, 2, 8, true},
		{"short buffer", 2, 2, 3, 11, true},
		{"long buffer", 2, 2, 3, 13, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFrame(tt.w, tt.h, tt.ch, make([]byte, tt.size))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (f.Width != tt.w || f.Height != tt.h || f.CapturedAt.IsZero()) {
				t.Errorf("frame = %dx%d at %v", f.Width, f.Height, f.CapturedAt)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	f := Placeholder()
	if f.Width != PlaceholderWidth || f.Height != PlaceholderHeight || f.Channels != 3 {
		t.Fatalf("placeholder = %dx%dx%d", f.Width, f.Height, f.Channels)
	}
	img := f.Image()
	for _, pt := range [][2]int{{0, 0}, {639, 479}, {320, 240}} {
		r, g, b, a := img.At(pt[0], pt[1]).RGBA()
		if r != 0 || g != 0 || b>>8 != 255 || a>>8 != 255 {
			t.Errorf("pixel %v = %d,%d,%d,%d, want solid blue", pt, r, g, b, a)
		}
	}
}

func TestRGBConversion(t *testing.T) {
	gray, _ := NewFrame(2, 1, 1, []byte{10, 200})
	if got := gray.RGB(); string(got) != string([]byte{10, 10, 10, 200, 200, 200}) {
		t.Errorf("gray RGB = %v", got)
	}

	rgba, _ := NewFrame(1, 1, 4, []byte{1, 2, 3, 4})
	if got := rgba.RGB(); string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("rgba RGB = %v", got)
	}

	rgb, _ := NewFrame(1, 1, 3, []byte{7, 8, 9})
	if got := rgb.Image().RGBAAt(0, 0); got.R != 7 || got.G != 8 || got.B != 9 || got.A != 255 {
		t.Errorf("Image pixel = %v", got)
	}
}

func TestTotalTime(t *testing.T) {
	rec := CycleRecord{BlipTime: 1500 * time.Millisecond, HTTPLatency: 250 * time.Millisecond}
	if got := rec.TotalTime(); got != 1750*time.Millisecond {
		t.Errorf("TotalTime = %v", got)
	}
	if got := Milliseconds(1234567 * time.Nanosecond); got != 1.234567 {
		t.Errorf("Milliseconds = %v", got)
	}
}
