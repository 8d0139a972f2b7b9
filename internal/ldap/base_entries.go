package ldap

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// SubschemaDN is the fixed address of the subschema entry.
const SubschemaDN = "cn=Subschema"

// Layout knows where every kind of entry lives in the tree:
//
//	dc=example,dc=com                               root
//	o=Example,dc=example,dc=com                     organization
//	ou=People,o=Example,dc=example,dc=com           department OUs and persons
//	ou=Groups,o=Example,dc=example,dc=com           department groups
//	ou=CustomGroups,ou=Groups,o=Example,...         configured custom groups
type Layout struct {
	rootDN         DN
	organizationDN DN
	peopleDN       DN
	groupsDN       DN
	customGroupsDN DN

	organization string
	userPassword string
	admins       []AdminIdentity
	customGroups []CustomGroup
}

// NewLayout validates the directory configuration and derives the tree layout.
func NewLayout(cfg DirectoryConfig) (*Layout, error) {
	root, err := ParseDN(cfg.RootDN)
	if err != nil {
		return nil, fmt.Errorf("invalid root DN: %w", err)
	}
	if root.IsEmpty() {
		return nil, fmt.Errorf("root DN cannot be empty")
	}
	if strings.TrimSpace(cfg.Organization) == "" {
		return nil, fmt.Errorf("organization cannot be empty")
	}

	seen := make(map[string]bool, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		name := strings.ToLower(admin.CommonName)
		if name == "" {
			return nil, fmt.Errorf("admin common name cannot be empty")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate admin %q", admin.CommonName)
		}
		seen[name] = true
	}

	org := JoinDN(NewDN("o", cfg.Organization), root)
	groups := JoinDN(NewDN("ou", GroupsContainer), org)

	return &Layout{
		rootDN:         root,
		organizationDN: org,
		peopleDN:       JoinDN(NewDN("ou", PeopleContainer), org),
		groupsDN:       groups,
		customGroupsDN: JoinDN(NewDN("ou", CustomGroupsContainer), groups),
		organization:   cfg.Organization,
		userPassword:   cfg.UserPassword,
		admins:         cfg.Admins,
		customGroups:   cfg.CustomGroups,
	}, nil
}

func (l *Layout) RootDN() DN         { return l.rootDN }
func (l *Layout) OrganizationDN() DN { return l.organizationDN }
func (l *Layout) PeopleDN() DN       { return l.peopleDN }
func (l *Layout) GroupsDN() DN       { return l.groupsDN }
func (l *Layout) CustomGroupsDN() DN { return l.customGroupsDN }

// Admin returns the configured admin with the given common name.
func (l *Layout) Admin(commonName string) (AdminIdentity, bool) {
	for _, admin := range l.admins {
		if strings.EqualFold(admin.CommonName, commonName) {
			return admin, true
		}
	}
	return AdminIdentity{}, false
}

// AdminFor resolves a bind DN of the form cn=<name>,<root> to its admin.
func (l *Layout) AdminFor(dn DN) (AdminIdentity, bool) {
	if !l.rootDN.ParentOf(dn) {
		return AdminIdentity{}, false
	}
	cn, ok := dn.FirstValue("cn")
	if !ok {
		return AdminIdentity{}, false
	}
	return l.Admin(cn)
}

// OrganizationalUnit builds the OU entry for a department. fragment is the
// department path (ou=Child,ou=Parent,ou=Root) relative to ou=People.
func (l *Layout) OrganizationalUnit(fragment DN, name, groupID string) *Entry {
	e := NewEntry(JoinDN(fragment, l.peopleDN), ObjectClassOrganizationalUnit, ObjectClassTop)
	e.put("ou", []string{name})
	e.put(AttrEntryDN, []string{fragment.String()})
	e.put("groupid", []string{groupID})
	return e
}

// Group builds a groupOfNames entry. fragment is relative to ou=Groups.
func (l *Layout) Group(fragment DN, name, groupID string) *Entry {
	e := NewEntry(JoinDN(fragment, l.groupsDN), ObjectClassGroupOfNames, ObjectClassTop)
	e.put("cn", []string{name})
	e.put("ou", []string{name})
	e.put(AttrMember, nil)
	e.put(AttrMemberOf, nil)
	e.put(AttrEntryDN, []string{fragment.String()})
	if groupID != "" {
		e.put("groupid", []string{groupID})
	}
	return e
}

// Person builds an inetOrgPerson entry. fragment is relative to ou=People
// and normally mail=<mail> followed by the department path.
func (l *Layout) Person(fragment DN, attrs PersonAttributes) *Entry {
	e := NewEntry(JoinDN(fragment, l.peopleDN),
		ObjectClassInetOrgPerson, ObjectClassOrganizationalPerson, ObjectClassPerson, ObjectClassTop)

	e.put(AttrUserPassword, []string{l.placeholderPassword()})
	e.put(AttrMemberOf, nil)
	e.put(AttrEntryDN, []string{fragment.String()})
	e.put(AttrUID, []string{attrs.UID})
	e.put("title", []string{attrs.Title})
	e.put("mobileTelephoneNumber", []string{attrs.Mobile})
	e.put("cn", []string{attrs.CN})
	e.put("givenName", []string{attrs.GivenName})
	e.put("sn", []string{attrs.SN})
	e.put(AttrMail, []string{attrs.Mail})
	e.put("avatarurl", []string{attrs.AvatarURL})
	for _, extra := range attrs.Extra {
		e.put(extra.Name, extra.Values)
	}
	return e
}

func (l *Layout) placeholderPassword() string {
	if l.userPassword != "" {
		return l.userPassword
	}
	return rand.Text()
}

// BaseEntries returns the static entries served alongside every snapshot:
// root, organization, the People and Groups containers and one entry per admin.
func (l *Layout) BaseEntries() []*Entry {
	dc, _ := l.rootDN.FirstValue("dc")

	root := NewEntry(l.rootDN, ObjectClassDCObject, ObjectClassOrganization, ObjectClassTop)
	root.put("dc", []string{dc})
	root.put("o", []string{l.organization})
	root.put(AttrHasSubordinates, []string{"TRUE"})

	org := NewEntry(l.organizationDN, ObjectClassOrganization, ObjectClassTop)
	org.put("ou", []string{l.organization})

	people := NewEntry(l.peopleDN, ObjectClassOrganizationalUnit, ObjectClassTop)
	people.put("ou", []string{PeopleContainer})

	groups := NewEntry(l.groupsDN, ObjectClassOrganizationalUnit, ObjectClassTop)
	groups.put("ou", []string{GroupsContainer})

	entries := []*Entry{root, org, people, groups}
	for _, admin := range l.admins {
		e := NewEntry(JoinDN(NewDN("cn", admin.CommonName), l.rootDN),
			ObjectClassSimpleSecurityObject, ObjectClassOrganizationalRole)
		e.put("cn", []string{admin.CommonName})
		e.put(AttrHasSubordinates, []string{"FALSE"})
		entries = append(entries, e)
	}

	for _, e := range entries {
		e.freeze("")
	}
	return entries
}

// RootDSE returns the entry answered for a base search of the empty DN.
func (l *Layout) RootDSE() *Entry {
	e := NewEntry(DN{}, ObjectClassTop, "OpenLDAProotDSE")
	e.put("namingContexts", []string{l.rootDN.String()})
	e.put("supportedLDAPVersion", []string{"3"})
	e.put("subschemaSubentry", []string{SubschemaDN})
	e.put("structuralObjectClass", []string{"OpenLDAProotDSE"})
	e.put("configContext", []string{"cn=config"})
	e.freeze("")
	return e
}

// Subschema returns the minimal subschema entry.
func (l *Layout) Subschema() *Entry {
	e := NewEntry(MustParseDN(SubschemaDN), ObjectClassTop, "subentry", "subschema", "extensibleObject")
	e.put("cn", []string{"Subschema"})
	e.freeze("")
	return e
}
