package theme

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gestionsostenible/console-core/internal/role"
)

// DefaultBrandName is the brand shown when no organization theme applies.
const DefaultBrandName = "Gestión Sostenible"

// Field length caps carried over from the admin console input rules.
const (
	maxNameLength  = 120
	maxLabelLength = 80
)

// PaletteKeys lists every recognized palette key. Unknown keys in an update
// are discarded; every key listed here has a default value.
var PaletteKeys = []string{
	"accent", "accent2", "accent3", "accentSoft",
	"nav", "nav2", "navContrast", "navContrastSoft", "navContrastMuted",
	"ink", "ink2", "muted", "line", "bg", "bg2", "card", "overlay",
}

var defaultPalette = map[string]string{
	"accent":           "#1DBF73",
	"accent2":          "#16a062",
	"accent3":          "#13a660",
	"accentSoft":       "#E8FFF5",
	"nav":              "#0f3346",
	"nav2":             "#0b2a3b",
	"navContrast":      "#ffffff",
	"navContrastSoft":  "rgba(255,255,255,.85)",
	"navContrastMuted": "rgba(255,255,255,.65)",
	"ink":              "#0D2B3D",
	"ink2":             "#0b1f2a",
	"muted":            "#6b7c8a",
	"line":             "#dfe8f1",
	"bg":               "#f2f6fb",
	"bg2":              "#ffffff",
	"card":             "#ffffff",
	"overlay":          "rgba(15,51,70,.55)",
}

var defaultModuleLabels = map[string]string{
	role.ModuleHome:          "Inicio",
	role.ModuleClients:       "Clientes",
	role.ModuleRoutes:        "Calendario / Rutas",
	role.ModuleFinance:       "Finanzas y DGI",
	role.ModuleThemes:        "Temas",
	role.ModuleUsers:         "Gestión de Cuentas",
	role.ModuleConfiguration: "Configuración",
}

// Logo describes an organization logo asset.
type Logo struct {
	DataURL   string  `json:"dataUrl,omitempty"`
	Name      string  `json:"name,omitempty"`
	Aspect    float64 `json:"aspect,omitempty"`
	UpdatedAt int64   `json:"updatedAt,omitempty"`
}

// Snapshot is a complete theme state. Engine methods only ever hand out
// clones; mutating a received snapshot never affects the active theme.
//
// The same shape doubles as update input, where absent fields mean
// "keep current".
type Snapshot struct {
	Palette   map[string]string `json:"palette"`
	Logo      *Logo             `json:"logo"`
	BrandName string            `json:"brandName,omitempty"`
	Modules   map[string]string `json:"modules,omitempty"`
	UpdatedAt int64             `json:"updatedAt,omitempty"`
}

// Defaults returns the hard-coded default theme.
func Defaults() Snapshot {
	return Snapshot{
		Palette:   cloneStringMap(defaultPalette),
		BrandName: DefaultBrandName,
		Modules:   cloneStringMap(defaultModuleLabels),
	}
}

// Decode parses a serialized snapshot, as stored under StorageKey or
// carried on the broadcast channels.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding theme snapshot: %w", err)
	}
	return &s, nil
}

var hexColorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// sanitizeColor accepts 3/6-digit hex and rgb(a)/hsl(a) functional notation.
// Anything else (including CSS injection attempts) is dropped.
func sanitizeColor(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	if hexColorPattern.MatchString(trimmed) {
		return trimmed, true
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "rgb(") || strings.HasPrefix(lower, "rgba(") ||
		strings.HasPrefix(lower, "hsl(") || strings.HasPrefix(lower, "hsla(") {
		return trimmed, true
	}
	return "", false
}

// sanitize filters an input down to its recognized, well-formed parts.
// It returns nil when nothing usable remains.
func sanitize(input *Snapshot) *Snapshot {
	if input == nil {
		return nil
	}
	out := &Snapshot{}

	for _, key := range PaletteKeys {
		raw, ok := input.Palette[key]
		if !ok {
			continue
		}
		if value, valid := sanitizeColor(raw); valid {
			if out.Palette == nil {
				out.Palette = make(map[string]string)
			}
			out.Palette[key] = value
		}
	}

	if input.Logo != nil {
		logo := Logo{
			DataURL:   input.Logo.DataURL,
			Aspect:    input.Logo.Aspect,
			UpdatedAt: input.Logo.UpdatedAt,
		}
		if name := strings.TrimSpace(input.Logo.Name); name != "" {
			logo.Name = truncate(name, maxNameLength)
		}
		if logo != (Logo{}) {
			out.Logo = &logo
		}
	}

	if name := strings.TrimSpace(input.BrandName); name != "" {
		out.BrandName = truncate(name, maxNameLength)
	}
	// The logo file name doubles as a brand fallback.
	if out.BrandName == "" && out.Logo != nil && out.Logo.Name != "" {
		out.BrandName = out.Logo.Name
	}

	for _, key := range role.ModuleKeys {
		raw, ok := input.Modules[key]
		if !ok {
			continue
		}
		if label := strings.TrimSpace(raw); label != "" {
			if out.Modules == nil {
				out.Modules = make(map[string]string)
			}
			out.Modules[key] = truncate(label, maxLabelLength)
		}
	}

	if input.UpdatedAt > 0 {
		out.UpdatedAt = input.UpdatedAt
	}

	if len(out.Palette) == 0 && out.Logo == nil && out.BrandName == "" && len(out.Modules) == 0 {
		return nil
	}
	return out
}

// build produces a complete snapshot: defaults overlaid with the sanitized
// input. A nil or unusable input yields the defaults, which is what a theme
// reset applies.
func build(input *Snapshot) Snapshot {
	base := Defaults()
	sanitized := sanitize(input)
	if sanitized == nil {
		return base
	}
	for key, value := range sanitized.Palette {
		base.Palette[key] = value
	}
	if sanitized.Logo != nil {
		logo := *sanitized.Logo
		base.Logo = &logo
	}
	if sanitized.BrandName != "" {
		base.BrandName = sanitized.BrandName
	}
	for key, value := range sanitized.Modules {
		base.Modules[key] = value
	}
	if sanitized.UpdatedAt > 0 {
		base.UpdatedAt = sanitized.UpdatedAt
	}
	return base
}

// merge overlays sanitized updates on a base snapshot: palette and module
// labels key-by-key, logo and brand name wholesale when present.
func merge(base Snapshot, updates *Snapshot) Snapshot {
	merged := build(&base)
	if updates == nil {
		return merged
	}
	for key, value := range updates.Palette {
		merged.Palette[key] = value
	}
	if updates.Logo != nil {
		logo := *updates.Logo
		merged.Logo = &logo
	}
	if updates.BrandName != "" {
		merged.BrandName = updates.BrandName
	}
	for key, value := range updates.Modules {
		merged.Modules[key] = value
	}
	if updates.UpdatedAt > 0 {
		merged.UpdatedAt = updates.UpdatedAt
	}
	return merged
}

// equal reports deep equality via serialized form, the same comparison the
// storm-prevention short-circuit is specified against.
func equal(a, b Snapshot) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// clone deep-copies a snapshot.
func clone(s Snapshot) Snapshot {
	out := s
	out.Palette = cloneStringMap(s.Palette)
	out.Modules = cloneStringMap(s.Modules)
	if s.Logo != nil {
		logo := *s.Logo
		out.Logo = &logo
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
