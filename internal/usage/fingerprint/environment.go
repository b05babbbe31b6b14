package fingerprint

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// StaticEnvironment reports fixed attributes.
type StaticEnvironment Attributes

func (e StaticEnvironment) Attributes(context.Context) Attributes {
	return Attributes(e)
}

// ProcessEnvironment derives attributes for a command-line caller: a synthetic
// user agent for the host platform, the locale from the usual environment
// variables and the local zone offset. Screen size is not observable.
type ProcessEnvironment struct {
	Clock   clockwork.Clock
	Product string
	Getenv  func(string) string
}

// NewProcessEnvironment reports attributes for the running process.
func NewProcessEnvironment(product string) *ProcessEnvironment {
	return &ProcessEnvironment{
		Clock:   clockwork.NewRealClock(),
		Product: product,
		Getenv:  os.Getenv,
	}
}

func (e *ProcessEnvironment) Attributes(context.Context) Attributes {
	_, offsetSeconds := e.Clock.Now().Zone()
	return Attributes{
		UserAgent:      e.Product + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")",
		Locale:         e.locale(),
		TimezoneOffset: strconv.Itoa(offsetSeconds / int(time.Minute/time.Second)),
	}
}

// locale strips encoding and modifier suffixes: "en_GB.UTF-8" becomes "en-GB".
func (e *ProcessEnvironment) locale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := e.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

type attributesKey struct{}

// WithAttributes stores attributes on ctx for ContextEnvironment.
func WithAttributes(ctx context.Context, a Attributes) context.Context {
	return context.WithValue(ctx, attributesKey{}, a)
}

// AttributesFromContext returns attributes stored by WithAttributes, if any.
func AttributesFromContext(ctx context.Context) (Attributes, bool) {
	a, ok := ctx.Value(attributesKey{}).(Attributes)
	return a, ok
}

// ContextEnvironment reports the attributes captured on the request context by
// Middleware. A context without them yields all-unknown attributes.
type ContextEnvironment struct{}

func (ContextEnvironment) Attributes(ctx context.Context) Attributes {
	a, _ := AttributesFromContext(ctx)
	return a
}
