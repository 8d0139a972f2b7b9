package ldap

import (
	"strings"
)

// EscapeDNValue escapes an attribute value for use in a DN string (RFC 4514).
//
//	"Engineering"        -> "Engineering"
//	"Sales, EMEA"        -> "Sales\, EMEA"
//	"#1 Team"            -> "\#1 Team"
//	" padded "           -> "\ padded\ "
//	"a+b@example.com"    -> "a\+b@example.com"
//
// Department and person names come straight from the roster, so any of
// , + " \ < > ; can appear in them.
func EscapeDNValue(value string) string {
	if !NeedsDNEscaping(value) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i, r := range value {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '#' && i == 0:
			b.WriteString(`\#`)
		case r == ' ' && (i == 0 || i == last):
			b.WriteString(`\ `)
		case r == 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// NeedsDNEscaping reports whether EscapeDNValue would change value.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}
	if value[0] == ' ' || value[0] == '#' || value[len(value)-1] == ' ' {
		return true
	}
	return strings.ContainsAny(value, ",+\"\\<>;\x00")
}
