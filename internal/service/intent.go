package service

import (
	"regexp"
	"strings"

	"github.com/cloo-solutions/kbrag/internal/domain"
)

var listIntentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\blistar\b`),
	regexp.MustCompile(`\bquais (são|os) erros\b`),
	regexp.MustCompile(`\bver erros\b`),
	regexp.MustCompile(`\berros cadastrados\b`),
	regexp.MustCompile(`\blista de erros\b`),
}

// IsListIntent reports whether the user is asking for a list of titles
// rather than describing a problem.
func IsListIntent(query string) bool {
	q := strings.ToLower(query)
	for _, p := range listIntentPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// GuessClass picks a class from obvious product names in the query.
func GuessClass(query string) (domain.Class, bool) {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "xwork"):
		return domain.ClassXWork, true
	case strings.Contains(q, "studio"):
		return domain.ClassStudio, true
	}
	return "", false
}
