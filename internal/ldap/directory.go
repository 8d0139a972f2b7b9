package ldap

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/isometry/virtual-ldap/internal/credential"
)

// CredentialStore is the per-user credential state consulted by bind and
// written by modify.
type CredentialStore interface {
	Get(ctx context.Context, uid string) (credential.Record, error)
	Put(ctx context.Context, uid string, update credential.Record) error
}

// Directory answers bind, search and modify against the latest published
// snapshot plus the static base entries. It performs no I/O other than
// credential store calls.
type Directory struct {
	layout      *Layout
	authz       *Authorizer
	snapshots   *Snapshots
	credentials CredentialStore
	logger      Logger

	baseEntries []*Entry
	rootDSE     *Entry
	subschema   *Entry
}

// NewDirectory creates the query engine.
func NewDirectory(layout *Layout, snapshots *Snapshots, credentials CredentialStore, logger Logger) *Directory {
	if logger == nil {
		logger = NewNullLogger()
	}
	return &Directory{
		layout:      layout,
		authz:       NewAuthorizer(layout),
		snapshots:   snapshots,
		credentials: credentials,
		logger:      logger,
		baseEntries: layout.BaseEntries(),
		rootDSE:     layout.RootDSE(),
		subschema:   layout.Subschema(),
	}
}

// Layout returns the directory's tree layout.
func (d *Directory) Layout() *Layout {
	return d.layout
}

// Bind authenticates dn with password.
//
// An empty DN with an empty password is an anonymous bind and always
// succeeds. Admins (cn=<name>,<root>) are checked against their configured
// plaintext password. Persons anywhere below the root are checked against
// their stored credential, falling back to the entry's placeholder password.
// Every other DN is refused with InsufficientAccess.
func (d *Directory) Bind(ctx context.Context, dn, password string) error {
	bindDN, err := ParseDN(dn)
	if err != nil {
		return WrapError("bind", err)
	}

	if bindDN.IsEmpty() && password == "" {
		return nil
	}

	root := d.layout.RootDN()
	switch {
	case root.ParentOf(bindDN):
		admin, ok := d.layout.AdminFor(bindDN)
		if !ok || subtle.ConstantTimeCompare([]byte(admin.Password), []byte(password)) != 1 {
			d.logger.Debug("Admin bind rejected", map[string]any{"dn": dn})
			return NewInvalidCredentialsError(dn)
		}
		return nil

	case root.AncestorOf(bindDN):
		person, ok := d.snapshots.Load().FindPerson(bindDN)
		if !ok {
			d.logger.Debug("Bind for unknown person", map[string]any{"dn": dn})
			return NewInvalidCredentialsError(dn)
		}

		uid := person.First(AttrUID)
		record, err := d.credentials.Get(ctx, uid)
		if err != nil {
			d.logger.Error("Credential lookup failed", map[string]any{"uid": uid, "error": err.Error()})
			return NewUnavailableError("bind", dn, err)
		}

		stored := person.First(AttrUserPassword)
		if record.Password != nil && *record.Password != "" {
			stored = *record.Password
		} else {
			d.logger.Debug("No stored password, using placeholder", map[string]any{"uid": uid})
		}

		if !VerifyPassword(stored, password) {
			return NewInvalidCredentialsError(dn)
		}
		return nil

	default:
		return NewInsufficientAccessError("bind", dn)
	}
}

// Search returns the entries within req's scope that satisfy its filter, in
// candidate order: base entries, then the snapshot's entries.
//
// The root DSE and subschema entries are answered without authorization.
// Everything else requires a self-lookup or an admin bind.
func (d *Directory) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()

	base, err := ParseDN(req.BaseDN)
	if err != nil {
		return nil, WrapError("search", err)
	}

	if base.IsEmpty() {
		var entries []*Entry
		if req.Scope == ScopeBaseObject && matchesFilter(req.Filter, d.rootDSE) {
			entries = append(entries, d.rootDSE)
		}
		return &SearchResult{Entries: entries, Duration: time.Since(start)}, nil
	}

	if base.Equal(d.subschema.DN()) {
		var entries []*Entry
		if req.Scope != ScopeSingleLevel && matchesFilter(req.Filter, d.subschema) {
			entries = append(entries, d.subschema)
		}
		return &SearchResult{Entries: entries, Duration: time.Since(start)}, nil
	}

	bound, err := ParseDN(req.BoundDN)
	if err != nil {
		return nil, WrapError("search", err)
	}
	if err := d.authz.AuthorizeSearch(bound, base); err != nil {
		return nil, err
	}

	snapshot := d.snapshots.Load()
	candidates := append(append([]*Entry{}, d.baseEntries...), snapshot.Entries()...)

	var entries []*Entry
	for i, entry := range candidates {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, WrapError("search", ctx.Err())
		}
		if ScopeMatches(req.Scope, base, entry.DN()) && matchesFilter(req.Filter, entry) {
			entries = append(entries, entry)
		}
	}

	elapsed := time.Since(start)
	LogPerformance(d.logger, "search", elapsed, map[string]any{
		"base":       req.BaseDN,
		"scope":      req.Scope.String(),
		"candidates": len(candidates),
		"entries":    len(entries),
	})

	return &SearchResult{
		Entries:    entries,
		Generation: snapshot.Generation(),
		Duration:   elapsed,
	}, nil
}

// ScopeMatches reports whether candidate falls within scope of base.
//
//	base: candidate equals base
//	one:  candidate's parent equals base
//	sub:  candidate equals base or base is an ancestor of candidate
func ScopeMatches(scope SearchScope, base, candidate DN) bool {
	switch scope {
	case ScopeBaseObject:
		return base.Equal(candidate)
	case ScopeSingleLevel:
		return !candidate.IsEmpty() && base.Equal(candidate.Parent())
	case ScopeWholeSubtree:
		return base.Equal(candidate) || base.AncestorOf(candidate)
	default:
		return false
	}
}

func matchesFilter(filter Filter, entry *Entry) bool {
	return filter == nil || filter(entry)
}

// Modify applies credential updates to a person below the organization.
//
// A replace of userPassword stores the value hashed (values already carrying
// the SSHA256 marker are stored as given). A replace of otpsecret is stored
// verbatim. Later changes to the same attribute win, and the result is
// written with a single store call. Targets that are not a known person
// succeed with no effect.
func (d *Directory) Modify(ctx context.Context, req ModifyRequest) error {
	target, err := ParseDN(req.DN)
	if err != nil {
		return WrapError("modify", err)
	}
	bound, err := ParseDN(req.BoundDN)
	if err != nil {
		return WrapError("modify", err)
	}

	if !d.layout.OrganizationDN().AncestorOf(target) {
		return NewInsufficientAccessError("modify", req.DN)
	}
	if err := d.authz.AuthorizeModify(bound, target); err != nil {
		return err
	}

	person, ok := d.snapshots.Load().FindPerson(target)
	if !ok {
		d.logger.Info("Modify target is not a known person, ignoring", map[string]any{"dn": req.DN})
		return nil
	}
	uid := person.First(AttrUID)

	var update credential.Record
	var changed []string
	for _, change := range req.Changes {
		if change.Operation != ChangeReplace || len(change.Values) == 0 {
			continue
		}

		value := change.Values[0]
		switch strings.ToLower(change.Attribute) {
		case strings.ToLower(AttrUserPassword):
			if !IsHashedPassword(value) {
				hashed, err := HashPassword(value)
				if err != nil {
					return WrapError("modify", err)
				}
				value = hashed
			}
			update.Password = &value
		case AttrOTPSecret:
			update.OTPSecret = &value
		default:
			continue
		}
		changed = append(changed, change.Attribute)
	}

	if len(changed) == 0 {
		return nil
	}

	// All changes land in one write, so a failure leaves nothing applied.
	if err := d.credentials.Put(ctx, uid, update); err != nil {
		d.logger.Error("Credential update failed", map[string]any{"uid": uid, "attributes": changed, "error": err.Error()})
		return NewUnavailableError("modify", req.DN, err)
	}
	d.logger.Info("Credential updated", map[string]any{"uid": uid, "attributes": changed, "bound_dn": req.BoundDN})
	return nil
}
