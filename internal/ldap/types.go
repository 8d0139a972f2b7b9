package ldap

import (
	"time"
)

// Object classes used by synthesized entries.
const (
	ObjectClassTop                  = "top"
	ObjectClassOrganization         = "organization"
	ObjectClassDCObject             = "dcObject"
	ObjectClassOrganizationalUnit   = "organizationalUnit"
	ObjectClassGroupOfNames         = "groupOfNames"
	ObjectClassInetOrgPerson        = "inetOrgPerson"
	ObjectClassOrganizationalPerson = "organizationalPerson"
	ObjectClassPerson               = "person"
	ObjectClassSimpleSecurityObject = "simpleSecurityObject"
	ObjectClassOrganizationalRole   = "organizationalRole"
)

// Attribute names with special meaning to the engine.
const (
	AttrObjectClass     = "objectClass"
	AttrEntryDN         = "entryDN"
	AttrMember          = "member"
	AttrMemberOf        = "memberOf"
	AttrUserPassword    = "userPassword"
	AttrOTPSecret       = "otpsecret"
	AttrUID             = "uid"
	AttrMail            = "mail"
	AttrHasSubordinates = "hasSubordinates"
)

// Well-known container names below the organization entry.
const (
	PeopleContainer       = "People"
	GroupsContainer       = "Groups"
	CustomGroupsContainer = "CustomGroups"
)

// DirectoryConfig holds the static directory settings loaded once at startup.
type DirectoryConfig struct {
	RootDN       string          `yaml:"rootDN" default:"dc=example,dc=com"`
	Organization string          `yaml:"organization" default:"Example"`
	UserPassword string          `yaml:"userPassword"` // Placeholder for users without a stored credential
	Admins       []AdminIdentity `yaml:"admins"`
	CustomGroups []CustomGroup   `yaml:"customGroups"`
}

// AdminIdentity is a configured privileged bind identity at cn=<CommonName>,<RootDN>.
type AdminIdentity struct {
	CommonName     string `yaml:"commonName"`
	Password       string `yaml:"password"`
	CanModifyEntry bool   `yaml:"canModifyEntry"`
}

// CustomGroup is a synthetic group whose members are matched by mail.
type CustomGroup struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// SearchScope is the breadth of a search relative to its base DN.
type SearchScope int

const (
	ScopeBaseObject   SearchScope = 0
	ScopeSingleLevel  SearchScope = 1
	ScopeWholeSubtree SearchScope = 2
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// Filter is the externally evaluated attribute predicate of a search.
// A nil Filter matches every entry.
type Filter func(*Entry) bool

// SearchRequest describes one search against the directory.
type SearchRequest struct {
	BoundDN string      // DN the connection is bound as ("" when anonymous)
	BaseDN  string      // Search base
	Scope   SearchScope // Search scope
	Filter  Filter      // Attribute predicate
}

// ChangeOperation is the kind of one modify change.
type ChangeOperation int

const (
	ChangeAdd ChangeOperation = iota
	ChangeDelete
	ChangeReplace
)

// Change is one attribute modification.
type Change struct {
	Operation ChangeOperation
	Attribute string
	Values    []string
}

// ModifyRequest describes a credential update against one entry.
type ModifyRequest struct {
	BoundDN string
	DN      string
	Changes []Change
}

// SearchResult is returned by Directory.Search.
type SearchResult struct {
	Entries    []*Entry
	Generation string // Snapshot generation the entries were read from
	Duration   time.Duration
}
