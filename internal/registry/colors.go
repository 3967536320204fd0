package registry

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"
)

// colorPalette is a set of 12 distinct, accessible colors for UI agent
// differentiation. Agents without an explicit color get a deterministic
// pick keyed by node id.
var colorPalette = []string{
	"#dc2626", // red
	"#ea580c", // orange
	"#d97706", // amber
	"#ca8a04", // yellow
	"#16a34a", // green
	"#059669", // emerald
	"#0d9488", // teal
	"#0891b2", // cyan
	"#0284c7", // sky
	"#2563eb", // blue
	"#4f46e5", // indigo
	"#7c3aed", // violet
}

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ColorFor returns a deterministic palette color for an agent name.
func ColorFor(name string) string {
	sum := sha256.Sum256([]byte(name))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(colorPalette))
	return colorPalette[idx]
}

// assignColor fills an agent's UI color: a valid custom color is kept,
// anything else falls back to the palette.
func assignColor(a *Agent) {
	if hexColorRe.MatchString(a.Color) {
		return
	}
	a.Color = ColorFor(a.NodeID())
}
