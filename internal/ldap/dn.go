package ldap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// AttributeTypeAndValue is a single attr=value pair inside an RDN.
type AttributeTypeAndValue struct {
	Type  string
	Value string
}

// RDN is one component of a DN. Multi-valued RDNs (cn=a+sn=b) carry several pairs.
type RDN struct {
	Attributes []AttributeTypeAndValue
}

// DN is a parsed distinguished name, most-specific component first.
//
// The zero value is the empty DN, which addresses the root DSE. DN values are
// immutable: every operation returns a new value and never aliases the receiver's
// component slice.
type DN struct {
	rdns []RDN
}

// ParseDN parses an RFC 4514 string into a DN.
//
// Input:  "Mail=John@Example.com, OU=People, DC=example, DC=com"
// Output: DN with four components, original case preserved for display.
//
// The empty string parses to the empty DN. Empty components and components
// without "=" fail with ErrMalformedDN.
func ParseDN(text string) (DN, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DN{}, nil
	}

	parsed, err := ldap.ParseDN(text)
	if err != nil {
		return DN{}, NewMalformedDNError(text, err)
	}

	rdns := make([]RDN, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		if rdn == nil || len(rdn.Attributes) == 0 {
			return DN{}, NewMalformedDNError(text, fmt.Errorf("empty RDN component"))
		}

		attrs := make([]AttributeTypeAndValue, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			if attr == nil || strings.TrimSpace(attr.Type) == "" {
				return DN{}, NewMalformedDNError(text, fmt.Errorf("RDN component is missing an attribute type"))
			}
			attrs = append(attrs, AttributeTypeAndValue{
				Type:  strings.TrimSpace(attr.Type),
				Value: attr.Value,
			})
		}
		rdns = append(rdns, RDN{Attributes: attrs})
	}

	return DN{rdns: rdns}, nil
}

// MustParseDN is ParseDN for trusted, constant input. It panics on error.
func MustParseDN(text string) DN {
	dn, err := ParseDN(text)
	if err != nil {
		panic(err)
	}
	return dn
}

// NewDN builds a single-component DN from one attr=value pair. The value is
// taken literally; no escaping or parsing is applied.
func NewDN(attrType, value string) DN {
	return DN{rdns: []RDN{{Attributes: []AttributeTypeAndValue{{Type: attrType, Value: value}}}}}
}

// JoinDN concatenates DNs, most-specific first:
//
//	JoinDN(NewDN("ou", "Eng"), MustParseDN("ou=People,dc=example,dc=com"))
//	=> ou=Eng,ou=People,dc=example,dc=com
func JoinDN(parts ...DN) DN {
	size := 0
	for _, p := range parts {
		size += len(p.rdns)
	}

	rdns := make([]RDN, 0, size)
	for _, p := range parts {
		rdns = append(rdns, p.rdns...)
	}
	return DN{rdns: rdns}
}

// IsEmpty reports whether the DN has no components.
func (d DN) IsEmpty() bool {
	return len(d.rdns) == 0
}

// Depth returns the number of RDN components.
func (d DN) Depth() int {
	return len(d.rdns)
}

// RDNs returns a copy of the component sequence.
func (d DN) RDNs() []RDN {
	out := make([]RDN, len(d.rdns))
	copy(out, d.rdns)
	return out
}

// Parent strips the leftmost component. The parent of a single-component DN
// (and of the empty DN) is the empty DN.
func (d DN) Parent() DN {
	if len(d.rdns) <= 1 {
		return DN{}
	}
	return DN{rdns: d.rdns[1:]}
}

// FirstValue returns the value of the leftmost component's attribute with the
// given type (case-insensitive), e.g. FirstValue("cn") on cn=keycloak,dc=example.
func (d DN) FirstValue(attrType string) (string, bool) {
	if len(d.rdns) == 0 {
		return "", false
	}
	for _, attr := range d.rdns[0].Attributes {
		if strings.EqualFold(attr.Type, attrType) {
			return attr.Value, true
		}
	}
	return "", false
}

// Equal is structural equality after lower-casing every attribute type and
// value on both sides. Attribute order inside a multi-valued RDN is not
// significant; component order is.
func (d DN) Equal(other DN) bool {
	if len(d.rdns) != len(other.rdns) {
		return false
	}
	for i := range d.rdns {
		if canonicalRDN(d.rdns[i]) != canonicalRDN(other.rdns[i]) {
			return false
		}
	}
	return true
}

// ParentOf reports whether other's immediate parent equals d.
func (d DN) ParentOf(other DN) bool {
	if len(other.rdns) != len(d.rdns)+1 {
		return false
	}
	return d.Equal(other.Parent())
}

// AncestorOf reports whether d is a proper ancestor of other at any depth.
// The empty DN is an ancestor of every non-empty DN.
func (d DN) AncestorOf(other DN) bool {
	if len(other.rdns) <= len(d.rdns) {
		return false
	}
	suffix := DN{rdns: other.rdns[len(other.rdns)-len(d.rdns):]}
	return d.Equal(suffix)
}

// String renders the DN with original case and RFC 4514 escaping.
func (d DN) String() string {
	rdnStrings := make([]string, 0, len(d.rdns))
	for _, rdn := range d.rdns {
		attrStrings := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrStrings = append(attrStrings, attr.Type+"="+EscapeDNValue(attr.Value))
		}
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}
	return strings.Join(rdnStrings, ",")
}

// Canonical renders the lower-cased form used for equality and map keys.
func (d DN) Canonical() string {
	rdnStrings := make([]string, 0, len(d.rdns))
	for _, rdn := range d.rdns {
		rdnStrings = append(rdnStrings, canonicalRDN(rdn))
	}
	return strings.Join(rdnStrings, ",")
}

// canonicalRDN lower-cases and sorts the pairs of one component.
func canonicalRDN(rdn RDN) string {
	pairs := make([]string, 0, len(rdn.Attributes))
	for _, attr := range rdn.Attributes {
		pairs = append(pairs, strings.ToLower(attr.Type)+"="+EscapeDNValue(strings.ToLower(attr.Value)))
	}
	if len(pairs) > 1 {
		sort.Strings(pairs)
	}
	return strings.Join(pairs, "+")
}
