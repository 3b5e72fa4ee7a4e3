package pofile

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const samplePO = `# Hungarian translation.
msgid ""
msgstr ""
"Project-Id-Version: demo 1.0\n"
"Language: hu\n"

#. extracted comment
#: app.go:12
msgid "hello"
msgstr "szia"

#, fuzzy
#| msgid "old count"
msgid "count"
msgid_plural "counts"
msgstr[0] "egy"
msgstr[1] "sok"

msgctxt "menu"
msgid ""
"Open\n"
"file"
msgstr ""

#~ msgid "gone"
#~ msgstr "elment"
`

func TestParseWriteRoundTripAndHeaderFields(t *testing.T) {
	f, err := Parse(strings.NewReader(samplePO))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if got := f.HeaderField("language"); got != "hu" {
		t.Fatalf("HeaderField(language) = %q, want hu", got)
	}
	f.SetHeaderField("Language", "de")
	f.SetHeaderField("Plural-Forms", PluralFormsForLang("de"))
	if got := f.HeaderField("Language"); got != "de" {
		t.Fatalf("Language after SetHeaderField = %q, want de", got)
	}

	if len(f.Entries) != 4 {
		t.Fatalf("entries len = %d, want 4", len(f.Entries))
	}
	plural := f.EntryByMsgID("count")
	if plural == nil {
		t.Fatal("count entry not found")
	}
	if plural.PreviousMsgID != "old count" || !plural.IsFuzzy() {
		t.Fatalf("plural entry = %#v", plural)
	}
	multi := f.Entries[2]
	if multi.MsgCtxt != "menu" || multi.MsgID != "Open\nfile" {
		t.Fatalf("multi-line entry = %#v", multi)
	}
	if !f.Entries[3].Obsolete || f.Entries[3].MsgStr != "elment" {
		t.Fatalf("obsolete entry = %#v", f.Entries[3])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	round, err := Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse roundtrip error: %v\n%s", err, buf.String())
	}
	if round.HeaderField("Language") != "de" {
		t.Fatalf("roundtrip Language = %q, want de", round.HeaderField("Language"))
	}
	if round.HeaderField("Plural-Forms") == "" {
		t.Fatal("roundtrip Plural-Forms missing")
	}
	if got := round.EntryByMsgID("hello"); got == nil || got.MsgStr != "szia" {
		t.Fatalf("roundtrip hello entry mismatch: %#v", got)
	}
	roundPlural := round.EntryByMsgID("count")
	if roundPlural == nil {
		t.Fatal("roundtrip plural entry missing")
	}
	if !reflect.DeepEqual(roundPlural.MsgStrPlural, map[int]string{0: "egy", 1: "sok"}) {
		t.Fatalf("roundtrip plural forms = %v", roundPlural.MsgStrPlural)
	}
	if round.Entries[2].MsgID != "Open\nfile" || round.Entries[2].MsgCtxt != "menu" {
		t.Fatalf("roundtrip multi-line entry = %#v", round.Entries[2])
	}
	if !round.Entries[3].Obsolete {
		t.Fatal("roundtrip lost obsolete marker")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(strings.NewReader("this is not a catalog\n"))
	if err == nil {
		t.Fatal("expected error for non-PO input")
	}
}

func TestParseEntriesWithoutBlankLines(t *testing.T) {
	input := "msgid \"a\"\nmsgstr \"A\"\nmsgid \"b\"\nmsgstr \"\"\n"
	f, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(f.Entries) != 2 || f.Entries[0].MsgStr != "A" || f.Entries[1].MsgID != "b" {
		t.Fatalf("entries = %#v", f.Entries)
	}

	tests := []struct {
		name  string
		input string
	}{
		{name: "msgctxt after msgstr", input: "msgid \"a\"\nmsgstr \"A\"\nmsgctxt \"menu\"\nmsgid \"b\"\nmsgstr \"\"\n"},
		{name: "comment after msgstr", input: "msgid \"a\"\nmsgstr \"A\"\n#, fuzzy\nmsgid \"b\"\nmsgstr \"\"\n"},
		{name: "plural then reference", input: "msgid \"a\"\nmsgid_plural \"as\"\nmsgstr[0] \"A\"\n#: x.go:1\nmsgid \"b\"\nmsgstr \"\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if len(f.Entries) != 2 {
				t.Fatalf("entries len = %d, want 2: %#v", len(f.Entries), f.Entries)
			}
			if f.Entries[0].MsgID != "a" || f.Entries[1].MsgID != "b" {
				t.Fatalf("msgids = %q, %q", f.Entries[0].MsgID, f.Entries[1].MsgID)
			}
			if f.Entries[0].MsgStr != "A" && f.Entries[0].MsgStrPlural[0] != "A" {
				t.Fatalf("first entry lost its translation: %#v", f.Entries[0])
			}
			if f.Entries[0].MsgCtxt != "" || len(f.Entries[0].Flags) != 0 || len(f.Entries[0].References) != 0 {
				t.Fatalf("first entry picked up the next entry's metadata: %#v", f.Entries[0])
			}
		})
	}
}

func TestNeedsTranslation(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  bool
	}{
		{name: "empty target", entry: Entry{MsgID: "Hello"}, want: true},
		{name: "translated", entry: Entry{MsgID: "Hello", MsgStr: "Szia"}, want: false},
		{name: "fuzzy draft kept", entry: Entry{MsgID: "Hello", MsgStr: "Szia", Flags: []string{"fuzzy"}}, want: false},
		{name: "no source", entry: Entry{MsgID: ""}, want: false},
		{name: "obsolete", entry: Entry{MsgID: "Hello", Obsolete: true}, want: false},
		{name: "plural partly empty", entry: Entry{MsgID: "file", MsgIDPlural: "files", MsgStrPlural: map[int]string{0: "fájl"}}, want: true},
		{name: "plural complete", entry: Entry{MsgID: "file", MsgIDPlural: "files", MsgStrPlural: map[int]string{0: "fájl", 1: "fájlok"}}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.NeedsTranslation(2); got != tc.want {
				t.Fatalf("NeedsTranslation() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestKeyIsStableAndDistinguishesContext(t *testing.T) {
	a := &Entry{MsgID: "Open"}
	b := &Entry{MsgID: "Open", MsgStr: "Megnyitás"}
	c := &Entry{MsgID: "Open", MsgCtxt: "menu"}

	if a.Key() != b.Key() {
		t.Fatal("Key must not depend on the translation")
	}
	if a.Key() == c.Key() {
		t.Fatal("Key must differ when the context differs")
	}
	if len(a.Key()) != 12 {
		t.Fatalf("Key length = %d, want 12", len(a.Key()))
	}
}

func TestNPlurals(t *testing.T) {
	f := NewFile()
	if got := f.NPlurals("ru"); got != 3 {
		t.Fatalf("NPlurals(ru) without header = %d, want 3", got)
	}
	f.SetHeaderField("Plural-Forms", "nplurals=1; plural=0;")
	if got := f.NPlurals("ru"); got != 1 {
		t.Fatalf("NPlurals with header = %d, want 1", got)
	}
}

func TestStats(t *testing.T) {
	f := NewFile()
	f.Entries = []*Entry{
		{MsgID: "t1", MsgStr: "translated"},
		{MsgID: "f1", MsgStr: "draft", Flags: []string{"fuzzy"}},
		{MsgID: "u1", MsgStr: ""},
		{MsgID: "p1", MsgIDPlural: "p1s", MsgStrPlural: map[int]string{0: "one", 1: "many"}},
		{MsgID: "old", MsgStr: "x", Obsolete: true},
	}

	total, translated, fuzzy, untranslated := f.Stats()
	if total != 4 || translated != 2 || fuzzy != 1 || untranslated != 1 {
		t.Fatalf("Stats = total=%d translated=%d fuzzy=%d untranslated=%d", total, translated, fuzzy, untranslated)
	}
}

func TestWriteFileAndParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.po")
	f := NewFile()
	f.Header.MsgStr = "Language: hu\n"
	f.Entries = append(f.Entries, &Entry{MsgID: "say \"hi\"\tnow", MsgStr: "mondd"})

	if err := f.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `msgid "say \"hi\"\tnow"`) {
		t.Fatalf("escaped msgid missing:\n%s", data)
	}

	back, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if back.Entries[0].MsgID != "say \"hi\"\tnow" {
		t.Fatalf("MsgID = %q", back.Entries[0].MsgID)
	}
}
