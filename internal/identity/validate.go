package identity

import (
	"fmt"
	"regexp"
	"strings"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+[0-9]{6,15}$`)
)

// SanitizeEmail trims, lowercases, and shape-checks an email address.
func SanitizeEmail(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if !emailPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, strings.TrimSpace(value))
	}
	return trimmed, nil
}

// SanitizePhone normalizes a phone number to digits with a leading +.
// Numbers must carry an international prefix.
func SanitizePhone(value string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separators are tolerated and dropped
		default:
			return "", ErrInvalidPhone
		}
	}
	normalized := b.String()
	if !phonePattern.MatchString(normalized) {
		return "", ErrInvalidPhone
	}
	return normalized, nil
}

// ValidatePassword enforces the configured minimum length and zxcvbn score.
// userInputs (email, display name) lower the score of passwords derived from
// them.
func ValidatePassword(password string, cfg config.PasswordConfig, userInputs ...string) error {
	trimmed := strings.TrimSpace(password)
	if len(trimmed) < cfg.MinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, cfg.MinLength)
	}
	if score := zxcvbn.PasswordStrength(trimmed, userInputs).Score; score < cfg.MinScore {
		return fmt.Errorf("%w: strength score %d below required %d", ErrWeakPassword, score, cfg.MinScore)
	}
	return nil
}
