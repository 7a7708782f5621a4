package identity

import "errors"

// Sentinel errors. API handlers map these to status codes; everything else
// is treated as a backend failure.
var (
	// ErrRateLimited marks a request rejected by the sliding-window limiter.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidEmail rejects a malformed email before any network call.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrInvalidPhone rejects a phone number without international prefix.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrWeakPassword rejects a password below the configured strength.
	ErrWeakPassword = errors.New("password too weak")

	// ErrInvalidCredentials is a failed email/password sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid covers malformed, expired, or mis-signed tokens.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrBackendUnavailable marks provider or admin API unreachability.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNoActiveSession is returned by privileged calls without a signed-in
	// admin.
	ErrNoActiveSession = errors.New("no active session")
)

// AuthErrorCode identifies known provider failure causes.
type AuthErrorCode string

// Known provider error codes.
const (
	CodeDomainNotAuthorized AuthErrorCode = "auth/operation-not-allowed"
	CodeNetworkFailed       AuthErrorCode = "auth/network-request-failed"
	CodeInvalidAPIKey       AuthErrorCode = "auth/invalid-api-key"
	CodeUserNotFound        AuthErrorCode = "auth/user-not-found"
	CodeWrongPassword       AuthErrorCode = "auth/wrong-password"
)

// AuthError is a provider failure with a machine code attached.
type AuthError struct {
	Code    AuthErrorCode
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// DescribeAuthError translates a provider failure into the localized message
// shown to the user. A handful of known causes get specific guidance; the
// fallback is generic on purpose so raw backend detail never leaks to the UI.
func DescribeAuthError(err error, host string) string {
	if host == "" {
		host = "este dominio"
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		switch authErr.Code {
		case CodeDomainNotAuthorized:
			return "El dominio “" + host + "” no está autorizado para iniciar sesión. " +
				"Agregalo a los dominios habilitados y reintentá, o usá el modo demo mientras tanto."
		case CodeNetworkFailed:
			return "No pudimos contactar al servicio de autenticación. Revisá la conexión e intentá de nuevo."
		case CodeInvalidAPIKey:
			return "La clave de acceso es inválida o no está habilitada para este dominio."
		case CodeUserNotFound, CodeWrongPassword:
			return "Correo o contraseña incorrectos. Verificá los datos e intentá nuevamente."
		}
		if authErr.Message != "" {
			return authErr.Message
		}
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return "Correo o contraseña incorrectos. Verificá los datos e intentá nuevamente."
	}
	if errors.Is(err, ErrRateLimited) {
		return "Demasiados intentos, esperá un momento."
	}
	return "Error de autenticación. Intentá de nuevo más tarde."
}
