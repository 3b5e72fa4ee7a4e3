// Package langmeta provides language tag validation and display metadata
// (English names, native names and emoji flags) for the UI and catalog.
package langmeta

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	Tag     string
	English string
	Native  string
	Flag    string
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 && len(parts[1]) == 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Parse parses a language code (accepting "_" separators) as a BCP 47 tag.
func Parse(lang string) (language.Tag, error) {
	return language.Parse(canonicalize(lang))
}

// Valid reports whether lang is a syntactically valid, known language tag.
// The undetermined tag "und" is not considered valid.
func Valid(lang string) bool {
	tag, err := Parse(lang)
	if err != nil {
		return false
	}
	base, conf := tag.Base()
	return conf != language.No && base.String() != "und"
}

// EnglishName returns the English display name with the first letter
// capitalised, or the code itself when no name is known.
func EnglishName(lang string) string {
	tag, err := Parse(lang)
	if err != nil {
		return lang
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return lang
	}
	return capitalize(name)
}

// NativeName returns the language's name in itself ("magyar" for hu).
func NativeName(lang string) string {
	tag, err := Parse(lang)
	if err != nil {
		return lang
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return lang
}

// Flag returns the emoji flag for the tag's (possibly inferred) region,
// or "" when the region is unknown or not a two-letter country.
func Flag(lang string) string {
	tag, err := Parse(lang)
	if err != nil {
		return ""
	}
	region, conf := tag.Region()
	if conf == language.No {
		return ""
	}
	return flagFromRegion(region.String())
}

func flagFromRegion(region string) string {
	if len(region) != 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(region) {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// Resolve returns best-effort metadata for a language code.
func Resolve(lang string) Meta {
	return Meta{
		Tag:     canonicalize(lang),
		English: EnglishName(lang),
		Native:  NativeName(lang),
		Flag:    Flag(lang),
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
