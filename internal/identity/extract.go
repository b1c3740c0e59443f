package identity

import "strings"

// Carrier exposes the parts of a request a credential can ride on.
type Carrier interface {
	Header(name string) string
	Cookie(name string) string
	Query(name string) string
}

// Extractor pulls a token out of a Carrier. Lookup order is fixed and the
// first non-empty match wins: query parameter (handshake auth field, only
// when QueryParam is set), Authorization bearer, custom header, cookie.
type Extractor struct {
	QueryParam string
	HeaderName string
	CookieName string
}

func DefaultExtractor() Extractor {
	return Extractor{
		HeaderName: "x-access-token",
		CookieName: "token",
	}
}

// ForHandshake returns a copy that also reads the handshake auth field.
func (e Extractor) ForHandshake(param string) Extractor {
	e.QueryParam = param
	return e
}

func (e Extractor) Extract(c Carrier) string {
	if e.QueryParam != "" {
		if t := strings.TrimSpace(c.Query(e.QueryParam)); t != "" {
			return t
		}
	}
	if t := bearer(c.Header("Authorization")); t != "" {
		return t
	}
	if e.HeaderName != "" {
		if t := strings.TrimSpace(c.Header(e.HeaderName)); t != "" {
			return t
		}
	}
	if e.CookieName != "" {
		if t := strings.TrimSpace(c.Cookie(e.CookieName)); t != "" {
			return t
		}
	}
	return ""
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
