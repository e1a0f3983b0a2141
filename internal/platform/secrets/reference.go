package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// reference is a parsed secret://name[?version=N&project=P] value.
type reference struct {
	name    string // path after the scheme, e.g. orders/token
	version string
	project string
}

// parseReference also accepts the older sm:// scheme.
func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	q := u.Query()
	ref := reference{
		name:    name,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

func (r reference) String() string { return "secret://" + r.name }

// resource is the Secret Manager version name. Path separators become underscores since
// secret ids cannot contain slashes.
func (r reference) resource(project string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, strings.ReplaceAll(r.name, "/", "_"), r.version)
}

func (r reference) cacheKey() string { return r.project + "|" + r.name + "|" + r.version }

// envKey names the fallback variable: orders/token becomes ORDERS_TOKEN.
func (r reference) envKey() string {
	return strings.Map(func(c rune) rune {
		if c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)) {
			return unicode.ToUpper(c)
		}
		return '_'
	}, r.name)
}

// masked identifies a reference in metrics without exposing its name.
func (r reference) masked() string {
	sum := sha256.Sum256([]byte(r.name))
	return hex.EncodeToString(sum[:8])
}
