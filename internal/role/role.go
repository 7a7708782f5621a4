package role

import "strings"

// Role represents a canonical console role.
type Role string

// Canonical roles, ordered roughly by privilege.
const (
	// RoleAdmin has full access to every module, including user and
	// organization management.
	RoleAdmin Role = "admin"

	// RoleManager manages day-to-day operations: clients, routes, finance
	// and theming, but not user accounts.
	RoleManager Role = "manager"

	// RoleOperator works the field modules (clients, routes) without
	// finance write access.
	RoleOperator Role = "operator"

	// RoleViewer has read-only access to every module.
	RoleViewer Role = "viewer"

	// RoleControl is the finance/compliance auditor role.
	RoleControl Role = "control"

	// RoleDemo is the simulated read-only role used by demo sessions.
	RoleDemo Role = "demo"

	// RoleGuest is the signed-out role. It carries no module access.
	RoleGuest Role = "guest"
)

// DefaultRole is assigned when a raw role signal cannot be resolved.
// It is the lowest-privilege signed-in role.
const DefaultRole = RoleViewer

// canonicalRoles is the exact-match resolution table.
var canonicalRoles = map[string]Role{
	"admin":    RoleAdmin,
	"manager":  RoleManager,
	"operator": RoleOperator,
	"viewer":   RoleViewer,
	"control":  RoleControl,
	"demo":     RoleDemo,
	"guest":    RoleGuest,
}

// roleAliases maps localized and legacy role names onto canonical roles.
// Keys are lowercase and diacritic-free; lookups strip both first.
var roleAliases = map[string]Role{
	"administrador": RoleAdmin,
	"administrator": RoleAdmin,
	"superusuario":  RoleAdmin,
	"gerente":       RoleManager,
	"gestor":        RoleManager,
	"encargado":     RoleManager,
	"operador":      RoleOperator,
	"operario":      RoleOperator,
	"chofer":        RoleOperator,
	"lector":        RoleViewer,
	"visor":         RoleViewer,
	"consulta":      RoleViewer,
	"invitado":      RoleGuest,
	"contralor":     RoleControl,
	"auditor":       RoleControl,
	"demostracion":  RoleDemo,
	"prueba":        RoleDemo,
}

// emailOverrides pins specific accounts to a role regardless of what their
// profile document says. Keys are lowercase email addresses.
var emailOverrides = map[string]Role{
	"prueba@gestionsostenible.com": RoleAdmin,
}

// Source identifies where a raw role signal came from. Resolution order for
// overrides depends on it: only profile- and email-derived signals consult
// the email override table.
type Source struct {
	// Raw is the free-form role value (may be empty).
	Raw string

	// Email, when set, is checked against the override table before Raw
	// is resolved.
	Email string
}

// Explicit builds a Source carrying only a raw role string.
func Explicit(raw string) Source {
	return Source{Raw: raw}
}

// FromProfile builds a Source from a profile's role and email fields.
func FromProfile(rawRole, email string) Source {
	return Source{Raw: rawRole, Email: email}
}

// FromEmail builds a Source that resolves purely from the override table,
// falling back to the default role when the email is not pinned.
func FromEmail(email string) Source {
	return Source{Email: email}
}

// Normalize resolves a role signal to a canonical role.
//
// Resolution order:
//  1. email override table (lowercase email exact match)
//  2. canonical table (lowercase exact match)
//  3. alias table (lowercase exact match)
//  4. diacritic-stripped retry of 2 and 3
//  5. substring heuristics ("admin", "control")
//  6. DefaultRole
//
// Normalize is idempotent: Normalize(Explicit(string(Normalize(s)))) always
// yields the same role.
func Normalize(src Source) Role {
	if email := strings.ToLower(strings.TrimSpace(src.Email)); email != "" {
		if r, ok := emailOverrides[email]; ok {
			return r
		}
	}

	raw := strings.ToLower(strings.TrimSpace(src.Raw))
	if raw == "" {
		return DefaultRole
	}

	if r, ok := canonicalRoles[raw]; ok {
		return r
	}
	if r, ok := roleAliases[raw]; ok {
		return r
	}

	stripped := stripDiacritics(raw)
	if r, ok := canonicalRoles[stripped]; ok {
		return r
	}
	if r, ok := roleAliases[stripped]; ok {
		return r
	}

	// Substring heuristics catch compound labels like "admin general"
	// or "control interno".
	if strings.Contains(stripped, "admin") {
		return RoleAdmin
	}
	if strings.Contains(stripped, "control") {
		return RoleControl
	}

	return DefaultRole
}

// IsCanonical reports whether r is one of the known canonical roles.
func IsCanonical(r Role) bool {
	_, ok := canonicalRoles[string(r)]
	return ok
}

// diacriticMap folds the accented characters seen in localized role names.
var diacriticMap = map[rune]rune{
	'á': 'a', 'à': 'a', 'ä': 'a', 'â': 'a',
	'é': 'e', 'è': 'e', 'ë': 'e', 'ê': 'e',
	'í': 'i', 'ì': 'i', 'ï': 'i', 'î': 'i',
	'ó': 'o', 'ò': 'o', 'ö': 'o', 'ô': 'o',
	'ú': 'u', 'ù': 'u', 'ü': 'u', 'û': 'u',
	'ñ': 'n', 'ç': 'c',
}

// stripDiacritics folds accented runes to their base form.
func stripDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := diacriticMap[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}
