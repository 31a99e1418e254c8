package listing

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/IvanBrykalov/autohttpfs/attr"
)

// Encode renders entries in the stat-object form Parse accepts, preserving
// their order. Origins use it to answer "text/json;hash" listings.
func Encode(entries []attr.Entry) []byte {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		name, _ := json.Marshal(e.Name)
		b.Write(name)
		b.WriteByte(':')
		st, _ := json.Marshal(toStat(e.Record))
		b.Write(st)
	}
	b.WriteString("}\n")
	return b.Bytes()
}

// EncodeStatHeader renders one entry as an X-FileStat-Json header value.
func EncodeStatHeader(e attr.Entry) string {
	return string(bytes.TrimSpace(Encode([]attr.Entry{e})))
}

func toStat(r attr.Record) stat {
	size := float64(r.Size)
	st := stat{Mode: attr.FormatPerm(r.Mode), Size: &size}
	if r.Mtime != 0 {
		st.Mtime = time.Unix(r.Mtime, 0).UTC().Format(time.RFC3339)
	}
	return st
}
