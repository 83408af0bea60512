package voltage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"chargewatch/internal/registry"
)

// NormalizeName folds a site name for comparison: accents stripped, lower
// case, surrounding space trimmed.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Candidates lists the project identifiers to try for a site, most specific
// first and without duplicates:
//
//  1. registry projects whose short code belongs to a site named like the
//     session's site or project name,
//  2. those short codes bare and zero-padded to 3 and 4 digits,
//  3. the raw site and project name.
func Candidates(reg registry.Registry, site, nameProject string) []string {
	site = strings.TrimSpace(site)
	nameProject = strings.TrimSpace(nameProject)
	if site == "" && nameProject == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	codes := reg.Codes()
	matching := func(name string) []string {
		if name == "" {
			return nil
		}
		want := NormalizeName(name)
		var hits []string
		for _, code := range codes {
			if NormalizeName(reg.Sites[code]) == want {
				hits = append(hits, code)
			}
		}
		return hits
	}
	names := []string{site, nameProject}

	for _, name := range names {
		for _, code := range matching(name) {
			for _, project := range reg.Projects {
				if project == code || strings.HasSuffix(project, "-"+code) {
					add(project)
				}
			}
		}
	}
	for _, name := range names {
		for _, code := range matching(name) {
			add(code)
			add(zeroPad(code, 3))
			add(zeroPad(code, 4))
		}
	}
	add(site)
	add(nameProject)
	return out
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
