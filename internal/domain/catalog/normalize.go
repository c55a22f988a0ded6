package catalog

import (
	"regexp"
	"strings"

	"github.com/corkboard/server/internal/sanitize"
)

const maxNameLen = 200

var nonVintagePattern = regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])(nv|n\.v\.|non[- ]vintage|sans ann[ée]e|multi[- ]vintage)($|[^\p{L}\p{N}])`)

// NormalizeName cleans a name for storage. Comparison stays case-insensitive
// at the datastore, so casing is preserved as first seen.
func NormalizeName(name string) string {
	cleaned := sanitize.Name(name)
	if len([]rune(cleaned)) > maxNameLen {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxNameLen]))
	}
	return cleaned
}

// NormalizeAttributes returns a cleaned copy of attrs.
func NormalizeAttributes(attrs Attributes) Attributes {
	out := Attributes{
		ProducerName: NormalizeName(attrs.ProducerName),
		WineName:     NormalizeName(attrs.WineName),
		Region:       NormalizeName(attrs.Region),
		Country:      NormalizeName(attrs.Country),
		Varietals:    dedupeFold(sanitize.Names(attrs.Varietals)),
		NonVintage:   attrs.NonVintage,
	}
	if attrs.Year != nil {
		year := *attrs.Year
		out.Year = &year
	}
	if out.Year == nil && !out.NonVintage {
		out.NonVintage = nonVintagePattern.MatchString(attrs.WineName) || nonVintagePattern.MatchString(attrs.ProducerName)
	}
	return out
}

func dedupeFold(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
