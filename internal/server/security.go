package server

import (
	"net/http"
	"strings"
)

// CSPConfig holds Content-Security-Policy configuration.
type CSPConfig struct {
	// DefaultSrc specifies default source for all directives
	DefaultSrc []string
	// ScriptSrc specifies valid sources for JavaScript
	ScriptSrc []string
	// StyleSrc specifies valid sources for CSS
	StyleSrc []string
	// ImgSrc specifies valid sources for images
	ImgSrc []string
	// FontSrc specifies valid sources for fonts
	FontSrc []string
	// ConnectSrc specifies valid sources for fetch, XMLHttpRequest, WebSocket
	ConnectSrc []string
	// FrameAncestors specifies valid parents that may embed the page
	FrameAncestors []string
	// BaseURI restricts URLs that can be used in <base> element
	BaseURI []string
	// FormAction restricts URLs that can be used as form action targets
	FormAction []string
	// UpgradeInsecureRequests forces HTTPS
	UpgradeInsecureRequests bool
}

// WebUICSPConfig returns the CSP for the parse form and its results.
// The error banner is rendered with an inline style attribute, so style-src
// needs 'unsafe-inline'. Scripts stay same-origin only.
func WebUICSPConfig() CSPConfig {
	return CSPConfig{
		DefaultSrc:     []string{"'self'"},
		ScriptSrc:      []string{"'self'"},
		StyleSrc:       []string{"'self'", "'unsafe-inline'"},
		ImgSrc:         []string{"'self'", "data:"},
		FontSrc:        []string{"'self'"},
		ConnectSrc:     []string{"'self'"},
		FrameAncestors: []string{"'none'"},
		BaseURI:        []string{"'self'"},
		FormAction:     []string{"'self'"},
	}
}

// APICSPConfig returns a strict CSP for JSON endpoints.
func APICSPConfig() CSPConfig {
	return CSPConfig{
		DefaultSrc:     []string{"'none'"},
		FrameAncestors: []string{"'none'"},
		BaseURI:        []string{"'none'"},
		FormAction:     []string{"'none'"},
	}
}

// BuildCSPHeader builds a Content-Security-Policy header value from config.
func (cfg CSPConfig) BuildCSPHeader() string {
	var directives []string

	add := func(name string, sources []string) {
		if len(sources) > 0 {
			directives = append(directives, name+" "+strings.Join(sources, " "))
		}
	}
	add("default-src", cfg.DefaultSrc)
	add("script-src", cfg.ScriptSrc)
	add("style-src", cfg.StyleSrc)
	add("img-src", cfg.ImgSrc)
	add("font-src", cfg.FontSrc)
	add("connect-src", cfg.ConnectSrc)
	add("frame-ancestors", cfg.FrameAncestors)
	add("base-uri", cfg.BaseURI)
	add("form-action", cfg.FormAction)
	if cfg.UpgradeInsecureRequests {
		directives = append(directives, "upgrade-insecure-requests")
	}

	return strings.Join(directives, "; ")
}

// SecurityHeadersWithCSP adds the standard security headers and the CSP
// built from cfg. A handler further down may replace the CSP header, which
// the JSON endpoints do with APICSPConfig.
func SecurityHeadersWithCSP(cfg CSPConfig, next http.Handler) http.Handler {
	cspHeader := cfg.BuildCSPHeader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if cspHeader != "" {
			w.Header().Set("Content-Security-Policy", cspHeader)
		}

		next.ServeHTTP(w, r)
	})
}

// FormContentTypes are the request bodies accepted by the parse form.
var FormContentTypes = []string{
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// ValidateContentType checks if a Content-Type header is in the allowed list.
// This prevents content-type confusion attacks.
func ValidateContentType(contentType string, allowed []string) bool {
	// Extract just the media type, ignore parameters
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)

	for _, allowedType := range allowed {
		if strings.EqualFold(mediaType, allowedType) {
			return true
		}
	}

	return false
}
