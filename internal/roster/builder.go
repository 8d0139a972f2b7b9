package roster

import (
	"fmt"
	"strings"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// BuildStats counts what a build kept and dropped.
type BuildStats struct {
	Departments int
	Users       int
	Dropped     map[string]int // reason -> count
}

// BuildSnapshot synthesizes the directory from a department tree and the
// users fetched for it, in fetch order:
//
//  1. one OU and one group per department, each non-root group a member of
//     its parent's group
//  2. one person per retained user below the department it was fetched
//     from, a member of every group from each of its departments up to the root
//
// The tree must come from NormalizeDepartments: a root department named like
// the custom group container is rejected.
func BuildSnapshot(layout *ldap.Layout, tree *DepartmentTree, users []User, logger ldap.Logger) (*ldap.Snapshot, BuildStats, error) {
	stats := BuildStats{Departments: tree.Len(), Dropped: make(map[string]int)}

	if root := tree.Root(); root != nil && strings.EqualFold(root.Name, ldap.CustomGroupsContainer) {
		return nil, stats, &MalformedRosterError{DepartmentID: root.ID, Reason: "root department name " + root.Name + " is reserved"}
	}

	units := make([]*ldap.Entry, 0, tree.Len())
	groups := make([]*ldap.Entry, 0, tree.Len())
	groupByID := make(map[string]*ldap.Entry, tree.Len())

	for _, node := range tree.Nodes() {
		units = append(units, layout.OrganizationalUnit(node.Fragment, node.Name, node.ID))
		group := layout.Group(node.Fragment, node.Name, node.ID)
		groups = append(groups, group)
		groupByID[node.ID] = group
	}

	for _, node := range tree.Nodes() {
		if node.Parent == nil {
			continue
		}
		if err := ldap.AddMember(groupByID[node.Parent.ID], groupByID[node.ID]); err != nil {
			return nil, stats, fmt.Errorf("link department %s: %w", node.ID, err)
		}
	}

	filter := newUserFilter()
	persons := make([]*ldap.Entry, 0, len(users))
	personDNs := make(map[string]string, len(users)) // canonical DN -> uid

	for _, u := range users {
		if reason := filter.dropReason(u); reason != "" {
			stats.Dropped[reason]++
			if reason == "missing email" {
				logger.Warn("Dropping user without email", map[string]any{"uid": u.ID, "name": u.Name})
			}
			continue
		}

		home, ok := tree.Get(u.FetchedFrom)
		if !ok {
			stats.Dropped["unknown department"]++
			logger.Warn("Dropping user from unknown department", map[string]any{"uid": u.ID, "department": u.FetchedFrom})
			continue
		}

		mail := ResolvedMail(u)
		fragment := ldap.JoinDN(ldap.NewDN(ldap.AttrMail, mail), home.Fragment)
		if other, taken := personDNs[fragment.Canonical()]; taken {
			stats.Dropped["duplicate dn"]++
			logger.Warn("Dropping user with duplicate DN", map[string]any{"uid": u.ID, "dn": fragment.String(), "kept_uid": other})
			continue
		}
		personDNs[fragment.Canonical()] = u.ID

		givenName, sn := ParseName(u.Name)
		person := layout.Person(fragment, ldap.PersonAttributes{
			UID:       u.ID,
			CN:        u.Name,
			GivenName: givenName,
			SN:        sn,
			Mail:      mail,
			Title:     u.Title,
			Mobile:    u.Mobile,
			AvatarURL: u.AvatarURL,
			Extra:     u.Extra,
		})

		departmentIDs := u.DepartmentIDs
		if len(departmentIDs) == 0 {
			departmentIDs = []string{u.FetchedFrom}
		}
		for _, depID := range departmentIDs {
			node, ok := tree.Get(depID)
			if !ok {
				logger.Debug("User references unknown department", map[string]any{"uid": u.ID, "department": depID})
				continue
			}
			ancestry := node.Ancestry()
			departmentGroups := make([]*ldap.Entry, len(ancestry))
			for i, ancestor := range ancestry {
				departmentGroups[i] = groupByID[ancestor.ID]
			}
			if err := ldap.AddMemberToAll(person, departmentGroups...); err != nil {
				return nil, stats, fmt.Errorf("add user %s to department %s: %w", u.ID, depID, err)
			}
		}

		persons = append(persons, person)
	}
	stats.Users = len(persons)

	snapshot, err := layout.NewSnapshot(groups, units, persons)
	if err != nil {
		return nil, stats, err
	}
	return snapshot, stats, nil
}
