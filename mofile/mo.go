// Package mofile compiles parsed PO catalogs into the GNU gettext binary
// MO format, the form loaded by gettext runtimes.
package mofile

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/minios-linux/pomt/atomicfile"
	po "github.com/minios-linux/pomt/pofile"
)

// Magic is the little-endian MO file signature.
const Magic = 0x950412de

const headerSize = 28

type message struct {
	id  string
	str string
}

// Compile builds the MO representation of f. The header and every
// translated, non-fuzzy, live entry are included; everything else is
// dropped, matching msgfmt without --use-fuzzy.
func Compile(f *po.File) []byte {
	msgs := collect(f)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].id < msgs[j].id })

	n := uint32(len(msgs))
	origTable := uint32(headerSize)
	transTable := origTable + n*8
	dataStart := transTable + n*8

	var ids, strs bytes.Buffer
	origEntries := make([]uint32, 0, 2*n)
	transEntries := make([]uint32, 0, 2*n)

	offset := dataStart
	for _, m := range msgs {
		origEntries = append(origEntries, uint32(len(m.id)), offset)
		ids.WriteString(m.id)
		ids.WriteByte(0)
		offset += uint32(len(m.id)) + 1
	}
	for _, m := range msgs {
		transEntries = append(transEntries, uint32(len(m.str)), offset)
		strs.WriteString(m.str)
		strs.WriteByte(0)
		offset += uint32(len(m.str)) + 1
	}

	var out bytes.Buffer
	out.Grow(int(offset))
	for _, v := range []uint32{Magic, 0, n, origTable, transTable, 0, dataStart} {
		binary.Write(&out, binary.LittleEndian, v)
	}
	binary.Write(&out, binary.LittleEndian, origEntries)
	binary.Write(&out, binary.LittleEndian, transEntries)
	out.Write(ids.Bytes())
	out.Write(strs.Bytes())
	return out.Bytes()
}

// WriteFile compiles f and atomically writes the result to path.
func WriteFile(f *po.File, path string) error {
	return atomicfile.WriteFile(path, Compile(f), 0o644)
}

func collect(f *po.File) []message {
	var msgs []message
	if f.Header != nil && f.Header.MsgStr != "" {
		msgs = append(msgs, message{id: "", str: f.Header.MsgStr})
	}
	for _, e := range f.Entries {
		if e.Obsolete || !e.IsTranslated() {
			continue
		}
		id := e.MsgID
		if e.MsgCtxt != "" {
			id = e.MsgCtxt + "\x04" + id
		}
		str := e.MsgStr
		if e.IsPlural() {
			id += "\x00" + e.MsgIDPlural
			str = joinPlurals(e.MsgStrPlural)
		}
		msgs = append(msgs, message{id: id, str: str})
	}
	return msgs
}

func joinPlurals(forms map[int]string) string {
	last := -1
	for idx := range forms {
		if idx > last {
			last = idx
		}
	}
	parts := make([]string, last+1)
	for idx, v := range forms {
		parts[idx] = v
	}
	return strings.Join(parts, "\x00")
}
