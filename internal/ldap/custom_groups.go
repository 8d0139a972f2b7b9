package ldap

import (
	"fmt"
	"strings"
)

// buildCustomGroups derives the configured custom groups from persons. It
// must run before the persons are frozen since it records memberOf on them.
//
// The CustomGroups container is itself a group and every custom group is a
// member of it. Persons are matched by lower-cased mail.
//
// Membership is computed once per snapshot. The configuration and the
// snapshot are both immutable, so every request sees the same result it
// would get from recomputing.
func (l *Layout) buildCustomGroups(persons []*Entry) ([]*Entry, error) {
	if len(l.customGroups) == 0 {
		return nil, nil
	}

	byMail := make(map[string][]*Entry, len(persons))
	for _, p := range persons {
		mail := strings.ToLower(p.First(AttrMail))
		if mail != "" {
			byMail[mail] = append(byMail[mail], p)
		}
	}

	containerFragment := NewDN("ou", CustomGroupsContainer)
	container := l.Group(containerFragment, CustomGroupsContainer, "")
	entries := []*Entry{container}

	for _, cg := range l.customGroups {
		group := l.Group(JoinDN(NewDN("ou", cg.Name), containerFragment), cg.Name, "")
		if err := AddMember(container, group); err != nil {
			return nil, fmt.Errorf("custom group %q: %w", cg.Name, err)
		}

		for _, mail := range cg.Members {
			for _, person := range byMail[strings.ToLower(strings.TrimSpace(mail))] {
				if err := AddMember(group, person); err != nil {
					return nil, fmt.Errorf("custom group %q: %w", cg.Name, err)
				}
			}
		}
		entries = append(entries, group)
	}

	return entries, nil
}
