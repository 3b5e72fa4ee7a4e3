// Package i18n provides internationalization support for pomt itself.
//
// It wraps the gotext library. The CLI uses the process-wide T() and N()
// functions initialised by Init(); the web UI picks a Locale per request from
// the Accept-Language header with Match(). Translations are embedded in the
// binary via //go:embed.
//
// Usage:
//
//	import "github.com/minios-linux/pomt/i18n"
//
//	func main() {
//	    i18n.Init("")  // auto-detect from LANGUAGE/LC_ALL/LC_MESSAGES/LANG
//	    fmt.Println(i18n.T("Hello, world!"))
//	    fmt.Println(i18n.N("Found %d file", "Found %d files", count))
//	}
package i18n

import (
	"embed"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/leonelquinteros/gotext"
	"golang.org/x/text/language"
)

// locales embeds the translation files.
// Directory structure: locales/{lang}/LC_MESSAGES/pomt.po
//
//go:embed all:locales
var locales embed.FS

// domain is the gettext domain name for pomt.
const domain = "pomt"

// sourceLanguage is the language of the msgids.
const sourceLanguage = "en"

// po is the gotext locale object used by T and N.
var po *gotext.Locale

// Init initializes the process-wide locale. If lang is empty, it
// auto-detects from the environment variables LANGUAGE, LC_ALL, LC_MESSAGES,
// LANG (in that order, matching GNU gettext behavior).
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}
	po = newLocale(lang)
}

func newLocale(lang string) *gotext.Locale {
	l := gotext.NewLocaleFSWithPath(lang, locales, "locales")
	l.AddDomain(domain)
	l.SetDomain(domain)
	return l
}

// T translates a string. If no translation is available, returns the
// original string unchanged (standard gettext passthrough behavior).
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a string with plural forms.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage reads environment variables to determine the user's
// preferred language, following GNU gettext conventions.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(env); val != "" {
			// LANGUAGE can be a colon-separated list; take the first
			if env == "LANGUAGE" {
				parts := strings.SplitN(val, ":", 2)
				val = parts[0]
			}
			// Strip encoding suffix (e.g. "hu_HU.UTF-8" -> "hu_HU")
			if idx := strings.IndexByte(val, '.'); idx >= 0 {
				val = val[:idx]
			}
			// "C" and "POSIX" mean no translation
			if val == "C" || val == "POSIX" || val == "" {
				continue
			}
			return val
		}
	}
	return sourceLanguage
}

// Locale is a loaded message catalog together with its language tag.
type Locale struct {
	*gotext.Locale
	Lang string
}

// Bundle holds one loaded locale per embedded language and matches request
// preferences against them.
type Bundle struct {
	tags    []language.Tag
	names   []string
	locales map[string]*Locale
	matcher language.Matcher
	forced  string
}

// NewBundle loads every embedded locale. When forced is non-empty, Match
// always returns that language.
func NewBundle(forced string) *Bundle {
	names := []string{sourceLanguage}
	if dirs, err := fs.ReadDir(locales, "locales"); err == nil {
		for _, d := range dirs {
			if d.IsDir() && d.Name() != sourceLanguage {
				names = append(names, d.Name())
			}
		}
	}
	sort.Strings(names[1:])

	b := &Bundle{locales: make(map[string]*Locale), forced: forced}
	for _, name := range names {
		tag, err := language.Parse(name)
		if err != nil {
			continue
		}
		b.tags = append(b.tags, tag)
		b.names = append(b.names, name)
		b.locales[name] = &Locale{Locale: newLocale(name), Lang: name}
	}
	// The first tag is the matcher's fallback.
	b.matcher = language.NewMatcher(b.tags)
	return b
}

// Languages returns the available UI languages, source language first.
func (b *Bundle) Languages() []string {
	return append([]string(nil), b.names...)
}

// Match returns the locale best matching an Accept-Language header value.
func (b *Bundle) Match(acceptLanguage string) *Locale {
	if l, ok := b.locales[b.forced]; ok {
		return l
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.locales[sourceLanguage]
	}
	_, idx, conf := b.matcher.Match(tags...)
	if conf == language.No {
		return b.locales[sourceLanguage]
	}
	return b.locales[b.names[idx]]
}
