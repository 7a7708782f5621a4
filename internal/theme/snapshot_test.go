package theme

import (
	"strings"
	"testing"
)

func TestDefaultsCoverEveryPaletteKey(t *testing.T) {
	d := Defaults()
	for _, key := range PaletteKeys {
		if _, ok := d.Palette[key]; !ok {
			t.Errorf("palette key %q has no default", key)
		}
	}
	if len(d.Palette) != len(PaletteKeys) {
		t.Errorf("default palette has %d keys, want %d", len(d.Palette), len(PaletteKeys))
	}
	if d.BrandName != DefaultBrandName {
		t.Errorf("BrandName = %q", d.BrandName)
	}
	if d.Modules["home"] != "Inicio" {
		t.Errorf("module label home = %q", d.Modules["home"])
	}
}

func TestSanitizeColor(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"#1DBF73", "#1DBF73", true},
		{"#fff", "#fff", true},
		{"  #fff  ", "#fff", true},
		{"rgba(255,255,255,.85)", "rgba(255,255,255,.85)", true},
		{"hsl(120, 50%, 50%)", "hsl(120, 50%, 50%)", true},
		{"", "", false},
		{"   ", "", false},
		{"#ffff", "", false},
		{"red", "", false},
		{"url(javascript:alert(1))", "", false},
		{"#fff;} body{display:none", "", false},
	}
	for _, tt := range tests {
		got, valid := sanitizeColor(tt.in)
		if valid != tt.valid || got != tt.want {
			t.Errorf("sanitizeColor(%q) = %q, %v; want %q, %v", tt.in, got, valid, tt.want, tt.valid)
		}
	}
}

func TestSanitizeDropsUnknownPaletteKeys(t *testing.T) {
	out := sanitize(&Snapshot{Palette: map[string]string{
		"accent":    "#123456",
		"notAThing": "#654321",
	}})
	if out == nil {
		t.Fatal("expected usable output")
	}
	if _, ok := out.Palette["notAThing"]; ok {
		t.Error("unknown palette key survived sanitize")
	}
	if out.Palette["accent"] != "#123456" {
		t.Errorf("accent = %q", out.Palette["accent"])
	}
}

func TestSanitizeRejectsEmptyInput(t *testing.T) {
	if sanitize(nil) != nil {
		t.Error("sanitize(nil) != nil")
	}
	if sanitize(&Snapshot{}) != nil {
		t.Error("sanitize of empty input != nil")
	}
	if sanitize(&Snapshot{Palette: map[string]string{"accent": "not-a-color"}}) != nil {
		t.Error("sanitize of all-invalid input != nil")
	}
}

func TestSanitizeBrandNameFallsBackToLogoName(t *testing.T) {
	out := sanitize(&Snapshot{Logo: &Logo{Name: "  Empresa Verde  "}})
	if out == nil {
		t.Fatal("expected usable output")
	}
	if out.BrandName != "Empresa Verde" {
		t.Errorf("BrandName = %q", out.BrandName)
	}
}

func TestSanitizeTruncatesLongFields(t *testing.T) {
	long := strings.Repeat("x", 500)
	out := sanitize(&Snapshot{
		BrandName: long,
		Modules:   map[string]string{"home": long},
	})
	if out == nil {
		t.Fatal("expected usable output")
	}
	if len(out.BrandName) != maxNameLength {
		t.Errorf("BrandName length = %d, want %d", len(out.BrandName), maxNameLength)
	}
	if len(out.Modules["home"]) != maxLabelLength {
		t.Errorf("module label length = %d, want %d", len(out.Modules["home"]), maxLabelLength)
	}
}

func TestBuildFillsMissingPaletteKeys(t *testing.T) {
	built := build(&Snapshot{Palette: map[string]string{"accent": "#000000"}})
	if built.Palette["accent"] != "#000000" {
		t.Errorf("accent = %q", built.Palette["accent"])
	}
	for _, key := range PaletteKeys {
		if built.Palette[key] == "" {
			t.Errorf("key %q left undefined after partial update", key)
		}
	}
	if built.BrandName != DefaultBrandName {
		t.Errorf("BrandName = %q, want default", built.BrandName)
	}
}

func TestBuildNilIsDefaults(t *testing.T) {
	if !equal(build(nil), Defaults()) {
		t.Error("build(nil) differs from Defaults()")
	}
}

func TestMergePaletteShallowRestWholesale(t *testing.T) {
	base := build(&Snapshot{
		Palette:   map[string]string{"accent": "#111111", "nav": "#222222"},
		BrandName: "Base Brand",
		Logo:      &Logo{Name: "base.png", DataURL: "data:base"},
	})

	merged := merge(base, &Snapshot{
		Palette: map[string]string{"accent": "#333333"},
		Logo:    &Logo{Name: "next.png"},
	})

	if merged.Palette["accent"] != "#333333" {
		t.Errorf("accent = %q, want updated", merged.Palette["accent"])
	}
	if merged.Palette["nav"] != "#222222" {
		t.Errorf("nav = %q, want retained from base", merged.Palette["nav"])
	}
	if merged.BrandName != "Base Brand" {
		t.Errorf("BrandName = %q, want retained", merged.BrandName)
	}
	if merged.Logo == nil || merged.Logo.Name != "next.png" || merged.Logo.DataURL != "" {
		t.Errorf("logo = %+v, want wholesale replacement", merged.Logo)
	}
}

func TestEqualAndClone(t *testing.T) {
	a := build(&Snapshot{Palette: map[string]string{"accent": "#123456"}})
	b := clone(a)
	if !equal(a, b) {
		t.Error("clone not equal to original")
	}

	b.Palette["accent"] = "#654321"
	if a.Palette["accent"] != "#123456" {
		t.Error("mutating clone affected original")
	}
	if equal(a, b) {
		t.Error("equal ignores palette difference")
	}
}
