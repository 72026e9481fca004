// Package fingerprint builds and parses document version strings.
//
// A version string is opaque to the crawl engine: an unchanged string means the
// document is skipped, a different or missing one means it is processed again.
// Layout, each section introduced by '+' (present) or '-' (absent):
//
//	<acl section><path section><tag section><modified>:<length>
//
// The ACL section is a packed count, the sorted tokens and the deny token. Packed
// values escape '\' and '+' with a backslash and end with '+'.
package fingerprint

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const delimiter = '+'

// Fingerprint is the decoded form of a version string.
type Fingerprint struct {
	// ACLs are the access tokens indexed with the document. Nil means security is off.
	ACLs      []string
	DenyToken string
	// Path is the converted path or URI handed to the output, if any.
	Path string
	// Tag is an opaque remote validator such as an HTTP ETag.
	Tag      string
	Modified int64
	Length   int64
}

// String encodes the fingerprint. ACLs are sorted so token order does not matter.
func (f Fingerprint) String() string {
	var sb strings.Builder
	if f.ACLs != nil {
		acls := slices.Clone(f.ACLs)
		slices.Sort(acls)
		sb.WriteByte(delimiter)
		packList(&sb, acls)
		pack(&sb, f.DenyToken)
	} else {
		sb.WriteByte('-')
	}
	writeOptional(&sb, f.Path)
	writeOptional(&sb, f.Tag)
	sb.WriteString(strconv.FormatInt(f.Modified, 10))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(f.Length, 10))
	return sb.String()
}

// Parse decodes a version string produced by String.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	pos := 0

	present, err := marker(s, pos)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parse acl section: %w", err)
	}
	pos++
	if present {
		var acls []string
		acls, pos, err = unpackList(s, pos)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("parse acl section: %w", err)
		}
		f.ACLs = acls
		f.DenyToken, pos = unpack(s, pos)
	}

	f.Path, pos, err = readOptional(s, pos)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parse path section: %w", err)
	}
	f.Tag, pos, err = readOptional(s, pos)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("parse tag section: %w", err)
	}

	modified, length, ok := strings.Cut(s[pos:], ":")
	if !ok {
		return Fingerprint{}, fmt.Errorf("parse size section: missing ':' in %q", s[pos:])
	}
	if f.Modified, err = strconv.ParseInt(modified, 10, 64); err != nil {
		return Fingerprint{}, fmt.Errorf("parse modified time: %w", err)
	}
	if f.Length, err = strconv.ParseInt(length, 10, 64); err != nil {
		return Fingerprint{}, fmt.Errorf("parse length: %w", err)
	}
	return f, nil
}

// NeedsProcessing reports whether a document whose stored version is previous must
// be fetched again given its current version.
func NeedsProcessing(previous, current string) bool {
	return previous == "" || previous != current
}

func writeOptional(sb *strings.Builder, value string) {
	if value == "" {
		sb.WriteByte('-')
		return
	}
	sb.WriteByte(delimiter)
	pack(sb, value)
}

func readOptional(s string, pos int) (string, int, error) {
	present, err := marker(s, pos)
	if err != nil {
		return "", pos, err
	}
	pos++
	if !present {
		return "", pos, nil
	}
	value, next := unpack(s, pos)
	return value, next, nil
}

func marker(s string, pos int) (bool, error) {
	if pos >= len(s) {
		return false, fmt.Errorf("unexpected end at offset %d", pos)
	}
	switch s[pos] {
	case delimiter:
		return true, nil
	case '-':
		return false, nil
	default:
		return false, fmt.Errorf("unexpected marker %q at offset %d", s[pos], pos)
	}
}

func pack(sb *strings.Builder, value string) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' || c == delimiter {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(delimiter)
}

func unpack(s string, pos int) (string, int) {
	var sb strings.Builder
	for pos < len(s) {
		c := s[pos]
		pos++
		if c == '\\' {
			if pos < len(s) {
				c = s[pos]
				pos++
			}
		} else if c == delimiter {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String(), pos
}

func packList(sb *strings.Builder, values []string) {
	pack(sb, strconv.Itoa(len(values)))
	for _, v := range values {
		pack(sb, v)
	}
}

func unpackList(s string, pos int) ([]string, int, error) {
	raw, pos := unpack(s, pos)
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return nil, pos, fmt.Errorf("invalid list length %q", raw)
	}
	values := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var v string
		v, pos = unpack(s, pos)
		values = append(values, v)
	}
	return values, pos, nil
}
