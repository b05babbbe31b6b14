// Package fingerprint derives a stable pseudo-identity for an anonymous caller
// from environment signals it cannot easily choose to vary.
package fingerprint

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Unknown stands in for any attribute the environment cannot report.
const Unknown = "unknown"

// Identity is an opaque, deterministic caller key. Not cryptographic.
type Identity string

func (i Identity) String() string { return string(i) }

// Attributes are the observable signals an identity is derived from.
type Attributes struct {
	UserAgent      string
	Locale         string
	Screen         string // "WxH"
	TimezoneOffset string // minutes
}

// EnvironmentProvider reports the caller's attributes. It must not block.
type EnvironmentProvider interface {
	Attributes(ctx context.Context) Attributes
}

// Hasher reduces the joined attribute string to an identity.
type Hasher interface {
	Hash(input string) string
}

// Generator computes identities. Identify performs no I/O and never fails.
type Generator struct {
	env    EnvironmentProvider
	hasher Hasher
}

// Option configures a Generator.
type Option func(*Generator)

// WithHasher replaces the default PolynomialHasher.
func WithHasher(h Hasher) Option {
	return func(g *Generator) {
		if h != nil {
			g.hasher = h
		}
	}
}

// New creates a Generator reading attributes from env.
func New(env EnvironmentProvider, opts ...Option) *Generator {
	g := &Generator{
		env:    env,
		hasher: PolynomialHasher{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Identify returns the identity for the attributes currently visible through ctx.
func (g *Generator) Identify(ctx context.Context) Identity {
	return Identity(g.hasher.Hash(Canonical(g.env.Attributes(ctx))))
}

// Canonical joins attributes as "ua|locale|WxH|tzOffset", substituting Unknown
// for blanks.
func Canonical(a Attributes) string {
	return strings.Join([]string{
		orUnknown(a.UserAgent),
		orUnknown(a.Locale),
		orUnknown(a.Screen),
		orUnknown(a.TimezoneOffset),
	}, "|")
}

// Screen formats a screen size as "WxH". Non-positive dimensions are unknown.
func Screen(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Unknown
	}
	return v
}

// PolynomialHasher is a 31-based rolling hash over UTF-16 code units in
// wrapping 32-bit signed arithmetic. The absolute value is encoded in base 36.
type PolynomialHasher struct{}

func (PolynomialHasher) Hash(input string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(input)) {
		h = h*31 + int32(unit)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return strconv.FormatInt(abs, 36)
}
