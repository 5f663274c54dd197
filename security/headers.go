package security

import "net/http"

// SetSecurityHeaders hardens responses from the authorization and token
// endpoints. HSTS is only sent when the request arrived over TLS. Headers
// already set by the engine (such as a confirmation page's Content-Type)
// are left alone.
func SetSecurityHeaders(h http.Header, tls bool) {
	setDefault(h, "X-Frame-Options", "DENY")
	setDefault(h, "X-Content-Type-Options", "nosniff")
	setDefault(h, "Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
	setDefault(h, "Referrer-Policy", "no-referrer")
	setDefault(h, "Cache-Control", "no-store")
	setDefault(h, "Pragma", "no-cache")

	if tls {
		setDefault(h, "Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}
