package organization

import (
	"strings"
	"unicode"

	"github.com/gestionsostenible/console-core/internal/identity"
)

// The default organization, served without any backend lookup.
const (
	DefaultID   = "default"
	DefaultName = "General"
)

// maxSlugLength caps generated slugs.
const maxSlugLength = 64

// Default returns the built-in organization metadata.
func Default() identity.Organization {
	return identity.Organization{ID: DefaultID, Name: DefaultName, IsDefault: true}
}

// SanitizeID trims an organization id; empty or whitespace ids yield "".
func SanitizeID(value string) string {
	return strings.TrimSpace(value)
}

// SanitizeName trims an organization display name.
func SanitizeName(value string) string {
	return strings.TrimSpace(value)
}

// Slugify converts a display name into a lowercase hyphenated slug:
// diacritics stripped, runs of non-alphanumerics collapsed to single
// hyphens, trimmed, capped at 64 characters.
func Slugify(value string) string {
	name := SanitizeName(value)
	if name == "" {
		return ""
	}

	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range name {
		r = stripAccent(unicode.ToLower(r))
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	return slug
}

// stripAccent folds accented Latin vowels and ñ/ç to their base letter.
func stripAccent(r rune) rune {
	switch r {
	case 'á', 'à', 'ä', 'â', 'ã':
		return 'a'
	case 'é', 'è', 'ë', 'ê':
		return 'e'
	case 'í', 'ì', 'ï', 'î':
		return 'i'
	case 'ó', 'ò', 'ö', 'ô', 'õ':
		return 'o'
	case 'ú', 'ù', 'ü', 'û':
		return 'u'
	case 'ñ':
		return 'n'
	case 'ç':
		return 'c'
	}
	return r
}

// Apply merges organization metadata into a profile. With no metadata
// available it falls back to the profile's own fields, defaulting to the
// built-in organization when nothing else identifies one.
func Apply(profile *identity.Profile, org *identity.Organization) {
	if profile == nil {
		return
	}

	if org != nil {
		meta := *org
		if meta.ID == "" {
			meta.ID = firstNonEmpty(profile.OrganizationID, DefaultID)
		}
		profile.OrganizationID = meta.ID
		profile.Organization = &meta
		if meta.Name != "" {
			profile.OrganizationName = meta.Name
		}
		return
	}

	profile.OrganizationID = firstNonEmpty(profile.OrganizationID, DefaultID)
	if profile.OrganizationID == DefaultID {
		def := Default()
		profile.Organization = &def
		if profile.OrganizationName == "" {
			profile.OrganizationName = DefaultName
		}
	} else if profile.OrganizationName != "" {
		profile.Organization = &identity.Organization{
			ID:   profile.OrganizationID,
			Name: profile.OrganizationName,
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
