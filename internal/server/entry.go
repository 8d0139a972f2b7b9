package server

import (
	"strings"

	nldap "github.com/nmcclain/ldap"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

const (
	allUserAttributes = "*"
	noAttributes      = "1.1"
)

// toWireEntry converts entry to the wire representation, keeping only the
// requested attributes. No names, or "*", selects every attribute; "1.1"
// alone selects none. Names match case-insensitively.
func toWireEntry(entry *ldap.Entry, requested []string) *nldap.Entry {
	selected := attributeSelector(requested)

	wire := &nldap.Entry{DN: entry.DN().String()}
	for _, attr := range entry.Attributes() {
		if !selected(attr.Name) {
			continue
		}
		wire.Attributes = append(wire.Attributes, &nldap.EntryAttribute{
			Name:   attr.Name,
			Values: attr.Values,
		})
	}
	return wire
}

func attributeSelector(requested []string) func(string) bool {
	if len(requested) == 0 {
		return func(string) bool { return true }
	}

	names := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		switch name {
		case allUserAttributes:
			return func(string) bool { return true }
		case noAttributes, "":
			continue
		}
		names[strings.ToLower(name)] = struct{}{}
	}
	return func(name string) bool {
		_, ok := names[strings.ToLower(name)]
		return ok
	}
}
