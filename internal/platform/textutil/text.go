package textutil

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	richTextPolicyOnce sync.Once
	richTextPolicy     *bluemonday.Policy
)

// Normalize converts s to Unicode NFC, trims it and collapses inner whitespace runs.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// NormalizeEmail returns the lookup key of an email address.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(norm.NFC.String(email)))
}

// SanitizeRichText strips markup from certificate text except basic inline formatting.
func SanitizeRichText(s string) string {
	richTextPolicyOnce.Do(func() {
		policy := bluemonday.NewPolicy()
		policy.AllowElements("b", "strong", "i", "em", "u", "br", "p")
		richTextPolicy = policy
	})
	return strings.TrimSpace(richTextPolicy.Sanitize(norm.NFC.String(s)))
}

// NormalizeAsset trims an asset reference (URL or storage key) without altering its case.
func NormalizeAsset(ref string) string {
	return strings.TrimSpace(ref)
}
