package fingerprint

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// Request headers carrying the caller's environment.
const (
	HeaderScreenResolution = "X-Screen-Resolution"
	HeaderTimezoneOffset   = "X-Timezone-Offset"
)

// Middleware captures fingerprint attributes from request headers onto the
// request context for ContextEnvironment.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithAttributes(r.Context(), FromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromRequest extracts attributes from request headers.
func FromRequest(r *http.Request) Attributes {
	return Attributes{
		UserAgent:      NormalizeUserAgent(r.UserAgent()),
		Locale:         primaryLanguage(r.Header.Get("Accept-Language")),
		Screen:         strings.TrimSpace(r.Header.Get(HeaderScreenResolution)),
		TimezoneOffset: strings.TrimSpace(r.Header.Get(HeaderTimezoneOffset)),
	}
}

// NormalizeUserAgent reduces a User-Agent to browser, major version, OS and
// platform so routine browser updates keep the same identity.
func NormalizeUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()

	majorVersion := Unknown
	if major, _, _ := strings.Cut(version, "."); major != "" {
		majorVersion = major
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	return fmt.Sprintf("%s/%s (%s; %s)",
		lowerOrUnknown(browser), majorVersion, lowerOrUnknown(ua.OS()), platform)
}

// primaryLanguage returns the first language tag of an Accept-Language header.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

func lowerOrUnknown(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return Unknown
	}
	return v
}
