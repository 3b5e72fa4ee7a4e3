// Package pofile implements reading and writing of PO files
// following the GNU gettext PO format.
package pofile

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/minios-linux/pomt/atomicfile"
)

// Entry represents a single translatable message in a PO file.
type Entry struct {
	// TranslatorComments are lines starting with "# ".
	TranslatorComments []string
	// ExtractedComments are lines starting with "#.".
	ExtractedComments []string
	// References are source code locations, lines starting with "#:".
	References []string
	// Flags are format flags, lines starting with "#,".
	Flags []string
	// PreviousMsgID stores the previous msgid for fuzzy entries ("#|").
	PreviousMsgID string

	MsgCtxt      string
	MsgID        string
	MsgIDPlural  string
	MsgStr       string
	MsgStrPlural map[int]string

	// Obsolete marks entries prefixed with "#~".
	Obsolete bool
}

// IsPlural reports whether the entry carries a msgid_plural.
func (e *Entry) IsPlural() bool {
	return e.MsgIDPlural != ""
}

// IsTranslated returns true if the entry has a complete, non-fuzzy translation.
func (e *Entry) IsTranslated() bool {
	if e.MsgID == "" || e.IsFuzzy() {
		return false
	}
	if e.IsPlural() {
		if len(e.MsgStrPlural) == 0 {
			return false
		}
		for _, v := range e.MsgStrPlural {
			if v == "" {
				return false
			}
		}
		return true
	}
	return e.MsgStr != ""
}

// NeedsTranslation reports whether the entry has a source string and at least
// one empty target. Obsolete entries never need translation. Fuzzy entries
// with a draft translation are left alone.
func (e *Entry) NeedsTranslation(nplurals int) bool {
	if e.Obsolete || e.MsgID == "" {
		return false
	}
	if !e.IsPlural() {
		return e.MsgStr == ""
	}
	return len(e.EmptyPluralForms(nplurals)) > 0
}

// EmptyPluralForms returns the plural form indices in [0, nplurals) that have
// no translation yet.
func (e *Entry) EmptyPluralForms(nplurals int) []int {
	if nplurals < 1 {
		nplurals = 2
	}
	var out []int
	for i := 0; i < nplurals; i++ {
		if e.MsgStrPlural[i] == "" {
			out = append(out, i)
		}
	}
	return out
}

// IsFuzzy returns true if the entry is marked fuzzy.
func (e *Entry) IsFuzzy() bool {
	return e.HasFlag("fuzzy")
}

// HasFlag checks if a specific flag is present.
func (e *Entry) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Key returns a short content hash identifying the entry by context, msgid
// and plural msgid. It is stable across parse/write cycles and does not
// depend on the translation.
func (e *Entry) Key() string {
	sum := sha256.Sum256([]byte(e.MsgCtxt + "\x04" + e.MsgID + "\x00" + e.MsgIDPlural))
	return hex.EncodeToString(sum[:6])
}

// File represents a parsed PO/POT file.
type File struct {
	// Header is the metadata entry (msgid "").
	Header *Entry
	// Entries are the translatable message entries in file order.
	Entries []*Entry
}

// NewFile creates a new empty PO file.
func NewFile() *File {
	return &File{
		Header:  &Entry{},
		Entries: make([]*Entry, 0),
	}
}

// HeaderField returns a header field value by name (case-insensitive).
func (f *File) HeaderField(name string) string {
	if f.Header == nil {
		return ""
	}
	for _, line := range strings.Split(f.Header.MsgStr, "\n") {
		if idx := strings.Index(line, ":"); idx > 0 {
			if strings.EqualFold(strings.TrimSpace(line[:idx]), name) {
				return strings.TrimSpace(line[idx+1:])
			}
		}
	}
	return ""
}

// SetHeaderField sets a header field value, appending it if missing.
func (f *File) SetHeaderField(name, value string) {
	if f.Header == nil {
		f.Header = &Entry{}
	}

	lines := strings.Split(f.Header.MsgStr, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, ":"); idx > 0 {
			if strings.EqualFold(strings.TrimSpace(line[:idx]), name) {
				lines[i] = name + ": " + value
				f.Header.MsgStr = strings.Join(lines, "\n")
				return
			}
		}
	}

	// Keep the trailing newline convention of gettext headers.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = append(lines[:n-1], name+": "+value, "")
	} else {
		lines = append(lines, name+": "+value)
	}
	f.Header.MsgStr = strings.Join(lines, "\n")
}

// NPlurals returns the nplurals value from the Plural-Forms header, falling
// back to the default for lang when the header is absent or malformed.
func (f *File) NPlurals(lang string) int {
	if n := parseNPlurals(f.HeaderField("Plural-Forms")); n > 0 {
		return n
	}
	return parseNPlurals(PluralFormsForLang(lang))
}

func parseNPlurals(forms string) int {
	idx := strings.Index(forms, "nplurals=")
	if idx < 0 {
		return 0
	}
	rest := forms[idx+len("nplurals="):]
	if end := strings.IndexAny(rest, "; "); end >= 0 {
		rest = rest[:end]
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// EntryByMsgID finds a live entry by its msgid.
func (f *File) EntryByMsgID(msgid string) *Entry {
	for _, e := range f.Entries {
		if e.MsgID == msgid && !e.Obsolete {
			return e
		}
	}
	return nil
}

// Stats returns translation statistics over live entries.
func (f *File) Stats() (total, translated, fuzzy, untranslated int) {
	for _, e := range f.Entries {
		if e.MsgID == "" || e.Obsolete {
			continue
		}
		total++
		switch {
		case e.IsFuzzy():
			fuzzy++
		case e.IsTranslated():
			translated++
		default:
			untranslated++
		}
	}
	return
}

// Parse reads a PO/POT file from a reader.
func Parse(r io.Reader) (*File, error) {
	f := NewFile()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *Entry
	var lastField string // last msgid/msgstr/... keyword, for continuation lines
	lineNum := 0
	sawHeader := false

	flush := func() {
		if current == nil {
			return
		}
		if current.MsgID == "" && current.MsgCtxt == "" && !current.Obsolete && !sawHeader {
			f.Header = current
			sawHeader = true
		} else {
			f.Entries = append(f.Entries, current)
		}
		current = nil
		lastField = ""
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		// Blank separators are optional: a comment, msgctxt or msgid after
		// a msgstr begins the next entry.
		if strings.HasPrefix(lastField, "msgstr") && startsEntry(line) {
			flush()
		}
		if current == nil {
			current = &Entry{MsgStrPlural: make(map[int]string)}
		}

		if strings.HasPrefix(line, "#~") {
			current.Obsolete = true
			line = strings.TrimLeft(line[2:], " ")
			if strings.HasPrefix(line, "|") {
				line = "#" + line
			}
		}

		if strings.HasPrefix(line, "#") {
			parseComment(current, line)
			continue
		}

		keyword, value, ok := splitKeyword(line)
		switch {
		case ok && keyword == "msgctxt":
			current.MsgCtxt = unquote(value)
		case ok && keyword == "msgid":
			current.MsgID = unquote(value)
		case ok && keyword == "msgid_plural":
			current.MsgIDPlural = unquote(value)
		case ok && keyword == "msgstr":
			current.MsgStr = unquote(value)
		case ok && strings.HasPrefix(keyword, "msgstr["):
			idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(keyword, "msgstr["), "]"))
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("line %d: invalid msgstr index: %s", lineNum, line)
			}
			current.MsgStrPlural[idx] = unquote(value)
		case strings.HasPrefix(line, `"`):
			appendContinuation(current, lastField, unquote(line))
			continue
		default:
			return nil, fmt.Errorf("line %d: unexpected content: %s", lineNum, line)
		}
		lastField = keyword
	}

	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading PO file: %w", err)
	}

	return f, nil
}

func parseComment(e *Entry, line string) {
	switch {
	case strings.HasPrefix(line, "#:"):
		e.References = append(e.References, strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "#,"):
		for _, flag := range strings.Split(line[2:], ",") {
			if flag = strings.TrimSpace(flag); flag != "" {
				e.Flags = append(e.Flags, flag)
			}
		}
	case strings.HasPrefix(line, "#."):
		e.ExtractedComments = append(e.ExtractedComments, strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "#|"):
		prev := strings.TrimSpace(line[2:])
		if strings.HasPrefix(prev, "msgid ") {
			e.PreviousMsgID = unquote(strings.TrimPrefix(prev, "msgid "))
		}
	default:
		comment := line[1:]
		comment = strings.TrimPrefix(comment, " ")
		e.TranslatorComments = append(e.TranslatorComments, comment)
	}
}

// splitKeyword splits `msgid "..."` into its keyword and quoted value.
// startsEntry reports whether line can only belong to a following entry.
func startsEntry(line string) bool {
	if strings.HasPrefix(line, "#~") {
		line = strings.TrimLeft(line[2:], " ")
		if strings.HasPrefix(line, "|") {
			return true
		}
	} else if strings.HasPrefix(line, "#") {
		return true
	}
	keyword, _, ok := splitKeyword(line)
	return ok && (keyword == "msgctxt" || keyword == "msgid")
}

func splitKeyword(line string) (keyword, value string, ok bool) {
	if !strings.HasPrefix(line, "msg") {
		return "", "", false
	}
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx:]), true
}

func appendContinuation(e *Entry, field, val string) {
	switch {
	case field == "msgctxt":
		e.MsgCtxt += val
	case field == "msgid":
		e.MsgID += val
	case field == "msgid_plural":
		e.MsgIDPlural += val
	case field == "msgstr":
		e.MsgStr += val
	case strings.HasPrefix(field, "msgstr["):
		idx, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(field, "msgstr["), "]"))
		e.MsgStrPlural[idx] += val
	}
}

// ParseFile reads a PO/POT file from disk.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Write writes the PO file to a writer.
func (f *File) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	first := true
	if f.Header != nil && (f.Header.MsgStr != "" || len(f.Header.TranslatorComments) > 0) {
		writeEntry(bw, f.Header)
		first = false
	}

	for _, e := range f.Entries {
		if !first {
			bw.WriteString("\n")
		}
		writeEntry(bw, e)
		first = false
	}

	return bw.Flush()
}

// WriteFile writes the PO file to disk. The file is replaced atomically so
// readers never observe a partially written catalog.
func (f *File) WriteFile(path string) error {
	return atomicfile.Write(path, 0o644, f.Write)
}

func writeEntry(w *bufio.Writer, e *Entry) {
	prefix := ""
	if e.Obsolete {
		prefix = "#~ "
	}

	for _, c := range e.TranslatorComments {
		if c == "" {
			w.WriteString("#\n")
			continue
		}
		fmt.Fprintf(w, "# %s\n", c)
	}
	for _, c := range e.ExtractedComments {
		fmt.Fprintf(w, "#. %s\n", c)
	}
	for _, ref := range e.References {
		fmt.Fprintf(w, "#: %s\n", ref)
	}
	if len(e.Flags) > 0 {
		fmt.Fprintf(w, "#, %s\n", strings.Join(e.Flags, ", "))
	}
	if e.PreviousMsgID != "" {
		fmt.Fprintf(w, "#| msgid %s\n", quote(e.PreviousMsgID))
	}

	if e.MsgCtxt != "" {
		writeQuotedField(w, prefix, "msgctxt", e.MsgCtxt)
	}
	writeQuotedField(w, prefix, "msgid", e.MsgID)

	if e.IsPlural() {
		writeQuotedField(w, prefix, "msgid_plural", e.MsgIDPlural)
		indices := make([]int, 0, len(e.MsgStrPlural))
		for idx := range e.MsgStrPlural {
			indices = append(indices, idx)
		}
		if len(indices) == 0 {
			indices = []int{0, 1}
		}
		sort.Ints(indices)
		for _, idx := range indices {
			writeQuotedField(w, prefix, fmt.Sprintf("msgstr[%d]", idx), e.MsgStrPlural[idx])
		}
		return
	}
	writeQuotedField(w, prefix, "msgstr", e.MsgStr)
}

// writeQuotedField writes a PO field, splitting multi-line values after
// each "\n" the way msgmerge does.
func writeQuotedField(w *bufio.Writer, prefix, field, value string) {
	if !strings.Contains(value, "\n") || value == "\n" {
		fmt.Fprintf(w, "%s%s %s\n", prefix, field, quote(value))
		return
	}

	fmt.Fprintf(w, "%s%s \"\"\n", prefix, field)
	parts := strings.SplitAfter(value, "\n")
	for _, part := range parts {
		if part == "" {
			continue
		}
		fmt.Fprintf(w, "%s%s\n", prefix, quote(part))
	}
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '"':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// PluralFormsForLang returns the standard Plural-Forms header for a language code.
func PluralFormsForLang(lang string) string {
	base := lang
	if idx := strings.IndexAny(lang, "_-"); idx > 0 {
		base = lang[:idx]
	}

	switch strings.ToLower(base) {
	case "ja", "ko", "zh", "vi", "th", "id", "ms":
		return "nplurals=1; plural=0;"
	case "fr", "pt":
		return "nplurals=2; plural=(n > 1);"
	case "ru", "uk", "be", "hr", "sr", "bs":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "pl":
		return "nplurals=3; plural=(n==1 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "cs", "sk":
		return "nplurals=3; plural=(n==1 ? 0 : n>=2 && n<=4 ? 1 : 2);"
	case "ro":
		return "nplurals=3; plural=(n==1 ? 0 : (n==0 || (n%100 > 0 && n%100 < 20)) ? 1 : 2);"
	case "lt":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "lv":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n != 0 ? 1 : 2);"
	case "ar":
		return "nplurals=6; plural=(n==0 ? 0 : n==1 ? 1 : n==2 ? 2 : n%100>=3 && n%100<=10 ? 3 : n%100>=11 ? 4 : 5);"
	default:
		return "nplurals=2; plural=(n != 1);"
	}
}
