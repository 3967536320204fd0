package registry

import "testing"

func TestColorFor_Deterministic(t *testing.T) {
	a := ColorFor("dev__leader")
	b := ColorFor("dev__leader")
	if a != b {
		t.Errorf("ColorFor not deterministic: %q vs %q", a, b)
	}
	if !hexColorRe.MatchString(a) {
		t.Errorf("ColorFor returned non-hex color %q", a)
	}
}

func TestAssignColor(t *testing.T) {
	custom := &Agent{Name: "x", Color: "#123abc"}
	assignColor(custom)
	if custom.Color != "#123abc" {
		t.Errorf("valid custom color replaced: %q", custom.Color)
	}

	invalid := &Agent{Name: "y", Color: "reddish"}
	assignColor(invalid)
	if !hexColorRe.MatchString(invalid.Color) {
		t.Errorf("invalid color not replaced: %q", invalid.Color)
	}

	r := New()
	a := &Agent{Name: "worker", Group: "dev"}
	r.AddAgent(a)
	if a.Color == "" {
		t.Error("AddAgent left the color empty")
	}
}
