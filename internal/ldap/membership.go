package ldap

import (
	"fmt"
)

// AddMember records member in group.member and group in member.memberOf.
// Both edges are written or neither: a frozen entry on either side fails the
// call before anything is changed. Adding an existing edge is a no-op.
func AddMember(group, member *Entry) error {
	if group == nil || member == nil {
		return fmt.Errorf("group and member are required")
	}
	if group.frozen || member.frozen {
		return ErrEntryFrozen
	}
	if !group.HasObjectClass(ObjectClassGroupOfNames) {
		return fmt.Errorf("%s is not a group", group.dn)
	}

	if err := group.Add(AttrMember, member.dn.String()); err != nil {
		return err
	}
	return member.Add(AttrMemberOf, group.dn.String())
}

// AddMemberToAll adds member to every group in order, stopping at the first
// failure.
func AddMemberToAll(member *Entry, groups ...*Entry) error {
	for _, group := range groups {
		if err := AddMember(group, member); err != nil {
			return fmt.Errorf("add %s to %s: %w", member.dn, group.dn, err)
		}
	}
	return nil
}

// IsMember reports whether group lists member, comparing DNs case-insensitively.
func IsMember(group, member *Entry) bool {
	for _, dn := range group.Get(AttrMember) {
		parsed, err := ParseDN(dn)
		if err == nil && parsed.Equal(member.dn) {
			return true
		}
	}
	return false
}

// IsMemberOf reports whether member lists group in memberOf.
func IsMemberOf(member, group *Entry) bool {
	for _, dn := range member.Get(AttrMemberOf) {
		parsed, err := ParseDN(dn)
		if err == nil && parsed.Equal(group.dn) {
			return true
		}
	}
	return false
}
