package roster

import (
	"strings"
	"unicode/utf8"
)

// ParseName splits a display name into (givenName, sn).
//
// A name containing a space after its first character is read in Western
// order: the last word is sn and the words before it are givenName. Any
// other name is read as a CJK name: the first character is sn and the rest
// is givenName.
func ParseName(name string) (givenName, sn string) {
	if i := strings.Index(name, " "); i > 0 {
		parts := strings.Split(name, " ")
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}

	first, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return "", ""
	}
	return name[size:], string(first)
}

// ResolvedMail is the lower-cased address a person is addressed by.
func ResolvedMail(u User) string {
	return strings.ToLower(strings.TrimSpace(u.Email))
}

// userFilter drops duplicates, inactive users and users without mail.
type userFilter struct {
	seen map[string]bool
}

func newUserFilter() *userFilter {
	return &userFilter{seen: make(map[string]bool)}
}

// dropReason is "" when the user is retained. The first occurrence of an id
// decides: later occurrences are duplicates even if the first was dropped.
func (f *userFilter) dropReason(u User) string {
	if f.seen[u.ID] {
		return "duplicate"
	}
	f.seen[u.ID] = true

	switch {
	case !u.Active:
		return "inactive"
	case ResolvedMail(u) == "":
		return "missing email"
	default:
		return ""
	}
}
