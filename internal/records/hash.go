package records

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// RowHash computes a deterministic SHA-256 over every field of r and returns
// it as lowercase hex (length 64).
//
// Canonical form:
//   - fields in sorted name order, joined by ASCII Unit Separator (0x1f)
//   - each component is "name=" followed by the value
//   - null is a single NUL byte so it differs from the empty string
//   - list entries are joined by ASCII Record Separator (0x1e) inside
//     brackets, so ["a"] differs from "a"
func RowHash(r Record) string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(len(names) * 24)

	for i, name := range names {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(name)
		b.WriteByte('=')

		v := r[name]
		if !v.isList {
			appendCanonical(&b, v.str)
			continue
		}
		b.WriteByte('[')
		for j, e := range v.list {
			if j > 0 {
				b.WriteByte('\x1e')
			}
			appendCanonical(&b, e)
		}
		b.WriteByte(']')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func appendCanonical(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteByte('\x00')
		return
	}
	b.WriteString(*s)
}
