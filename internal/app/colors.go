package app

import (
	"fmt"
	"hash/fnv"
	"math"
)

var defaultColors = Colors{Primary: "#6750a4", Accent: "#d0bcff", Background: "#1c1b1f"}

// DeriveColors returns a deterministic palette for an artwork URL. The hue
// comes from a hash of the URL; saturation and lightness are fixed per role.
func DeriveColors(artworkURL string) Colors {
	if artworkURL == "" {
		return defaultColors
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(artworkURL))
	hue := float64(h.Sum32()%360) / 360

	return Colors{
		Primary:    hslHex(hue, 0.55, 0.45),
		Accent:     hslHex(math.Mod(hue+1.0/6, 1), 0.65, 0.70),
		Background: hslHex(hue, 0.25, 0.12),
	}
}

func hslHex(h, s, l float64) string {
	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		q := l * (1 + s)
		if l >= 0.5 {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToRGB(p, q, h+1.0/3)
		g = hueToRGB(p, q, h)
		b = hueToRGB(p, q, h-1.0/3)
	}
	return fmt.Sprintf("#%02x%02x%02x", to8(r), to8(g), to8(b))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
