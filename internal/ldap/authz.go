package ldap

// Authorizer evaluates bind identities against the configured admins.
type Authorizer struct {
	layout *Layout
}

// NewAuthorizer creates an authorizer for the layout's admins.
func NewAuthorizer(layout *Layout) *Authorizer {
	return &Authorizer{layout: layout}
}

// IsAdmin reports whether bound is a configured admin directly below the root.
func (a *Authorizer) IsAdmin(bound DN) bool {
	_, ok := a.layout.AdminFor(bound)
	return ok
}

// AuthorizeSearch allows self-lookups and any search by an admin.
func (a *Authorizer) AuthorizeSearch(bound, base DN) error {
	if !bound.IsEmpty() && bound.Equal(base) {
		return nil
	}
	if a.IsAdmin(bound) {
		return nil
	}
	return NewInsufficientAccessError("search", base.String())
}

// AuthorizeModify requires an admin holding the modify-entry flag.
func (a *Authorizer) AuthorizeModify(bound, target DN) error {
	admin, ok := a.layout.AdminFor(bound)
	if !ok || !admin.CanModifyEntry {
		return NewInsufficientAccessError("modify", target.String())
	}
	return nil
}
