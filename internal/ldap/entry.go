package ldap

import (
	"slices"
	"strings"
)

// Attribute is one named, multi-valued attribute of an entry.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is a synthesized directory entry.
//
// Entries are assembled by a single goroutine during a sync pass and frozen
// when their snapshot is published. After that every mutator returns
// ErrEntryFrozen, so a published entry can be shared by any number of
// concurrent searches without locking.
type Entry struct {
	dn         DN
	attributes []Attribute
	index      map[string]int // lower-cased attribute name -> position in attributes
	generation string
	frozen     bool
}

// NewEntry creates an entry with the given object classes. objectClass is
// always the first attribute.
func NewEntry(dn DN, objectClasses ...string) *Entry {
	e := &Entry{
		dn:    dn,
		index: make(map[string]int),
	}
	e.put(AttrObjectClass, objectClasses)
	return e
}

// DN returns the entry's distinguished name.
func (e *Entry) DN() DN {
	return e.dn
}

// Generation returns the id of the snapshot this entry was published in, or
// "" for entries that belong to no snapshot (static base entries).
func (e *Entry) Generation() string {
	return e.generation
}

// Frozen reports whether the entry has been published.
func (e *Entry) Frozen() bool {
	return e.frozen
}

// ObjectClasses returns the entry's object classes.
func (e *Entry) ObjectClasses() []string {
	return e.Get(AttrObjectClass)
}

// HasObjectClass reports whether the entry carries class (case-insensitive).
func (e *Entry) HasObjectClass(class string) bool {
	for _, oc := range e.Get(AttrObjectClass) {
		if strings.EqualFold(oc, class) {
			return true
		}
	}
	return false
}

// IsPerson reports whether the entry is an inetOrgPerson.
func (e *Entry) IsPerson() bool {
	return e.HasObjectClass(ObjectClassInetOrgPerson)
}

// Get returns a copy of the attribute's values. Names are case-insensitive.
func (e *Entry) Get(name string) []string {
	i, ok := e.index[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return slices.Clone(e.attributes[i].Values)
}

// First returns the first value of the attribute or "".
func (e *Entry) First(name string) string {
	i, ok := e.index[strings.ToLower(name)]
	if !ok || len(e.attributes[i].Values) == 0 {
		return ""
	}
	return e.attributes[i].Values[0]
}

// Has reports whether the attribute is present, even with no values.
func (e *Entry) Has(name string) bool {
	_, ok := e.index[strings.ToLower(name)]
	return ok
}

// Attributes returns a deep copy of all attributes in insertion order.
func (e *Entry) Attributes() []Attribute {
	out := make([]Attribute, len(e.attributes))
	for i, attr := range e.attributes {
		out[i] = Attribute{Name: attr.Name, Values: slices.Clone(attr.Values)}
	}
	return out
}

// Set replaces the attribute's values, adding the attribute if absent.
// Empty values are dropped; an attribute with no values is kept present.
func (e *Entry) Set(name string, values ...string) error {
	if e.frozen {
		return ErrEntryFrozen
	}
	e.put(name, values)
	return nil
}

// Add appends values the attribute does not already hold (compared
// case-insensitively).
func (e *Entry) Add(name string, values ...string) error {
	if e.frozen {
		return ErrEntryFrozen
	}

	i, ok := e.index[strings.ToLower(name)]
	if !ok {
		e.put(name, nil)
		i = e.index[strings.ToLower(name)]
	}

	for _, v := range values {
		if v == "" || containsFold(e.attributes[i].Values, v) {
			continue
		}
		e.attributes[i].Values = append(e.attributes[i].Values, v)
	}
	return nil
}

func (e *Entry) put(name string, values []string) {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}

	key := strings.ToLower(name)
	if i, ok := e.index[key]; ok {
		e.attributes[i].Values = kept
		return
	}
	e.index[key] = len(e.attributes)
	e.attributes = append(e.attributes, Attribute{Name: name, Values: kept})
}

func (e *Entry) freeze(generation string) {
	e.generation = generation
	e.frozen = true
}

func containsFold(values []string, v string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// PersonAttributes are the roster-derived fields of a person entry.
type PersonAttributes struct {
	UID       string
	CN        string
	GivenName string
	SN        string
	Mail      string
	Title     string
	Mobile    string
	AvatarURL string
	Extra     []Attribute // provider-specific attributes (pinyin, remark, ...)
}
