package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	ber "github.com/nmcclain/asn1-ber"
	nldap "github.com/nmcclain/ldap"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// handler implements the nmcclain Binder, Searcher, Modifier and Closer
// interfaces on top of the Directory.
type handler struct {
	server *Server
}

func (h *handler) Bind(bindDN, bindSimplePw string, conn net.Conn) (nldap.LDAPResultCode, error) {
	start := time.Now()
	ctx, cancel := h.server.requestContext()
	defer cancel()

	err := h.server.directory.Bind(ctx, bindDN, bindSimplePw)
	h.server.observe("bind", err, start)

	fields := map[string]any{"dn": bindDN, "remote": remoteAddr(conn)}
	if err != nil {
		fields["error"] = err.Error()
		h.server.logger.Info("Bind rejected", fields)
		return resultCode(err), nil
	}
	h.server.logger.Debug("Bind succeeded", fields)
	return nldap.LDAPResultSuccess, nil
}

func (h *handler) Search(boundDN string, req nldap.SearchRequest, conn net.Conn) (nldap.ServerSearchResult, error) {
	start := time.Now()
	ctx, cancel := h.server.requestContext()
	defer cancel()

	result, err := h.search(ctx, boundDN, req)
	h.server.observe("search", err, start)

	fields := map[string]any{
		"bound_dn": boundDN,
		"base_dn":  req.BaseDN,
		"scope":    ldap.SearchScope(req.Scope).String(),
		"filter":   req.Filter,
		"remote":   remoteAddr(conn),
	}
	if err != nil {
		fields["error"] = err.Error()
		h.server.logger.Info("Search rejected", fields)
		return nldap.ServerSearchResult{ResultCode: resultCode(err)}, err
	}

	fields["entries"] = len(result.Entries)
	fields["generation"] = result.Generation
	fields["duration_ms"] = result.Duration.Milliseconds()
	h.server.logger.Debug("Search completed", fields)

	entries := make([]*nldap.Entry, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, toWireEntry(entry, req.Attributes))
	}
	return nldap.ServerSearchResult{
		Entries:    entries,
		Referrals:  []string{},
		Controls:   []nldap.Control{},
		ResultCode: nldap.LDAPResultSuccess,
	}, nil
}

func (h *handler) search(ctx context.Context, boundDN string, req nldap.SearchRequest) (*ldap.SearchResult, error) {
	scope, err := searchScope(req.Scope)
	if err != nil {
		return nil, err
	}
	filter, err := compileFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	return h.server.directory.Search(ctx, ldap.SearchRequest{
		BoundDN: boundDN,
		BaseDN:  req.BaseDN,
		Scope:   scope,
		Filter:  filter,
	})
}

func (h *handler) Modify(boundDN string, req nldap.ModifyRequest, conn net.Conn) (nldap.LDAPResultCode, error) {
	start := time.Now()
	ctx, cancel := h.server.requestContext()
	defer cancel()

	err := h.server.directory.Modify(ctx, ldap.ModifyRequest{
		BoundDN: boundDN,
		DN:      req.Dn,
		Changes: toChanges(req),
	})
	h.server.observe("modify", err, start)

	fields := map[string]any{"bound_dn": boundDN, "dn": req.Dn, "remote": remoteAddr(conn)}
	if err != nil {
		fields["error"] = err.Error()
		h.server.logger.Warn("Modify rejected", fields)
		return resultCode(err), nil
	}
	h.server.logger.Info("Modify applied", fields)
	return nldap.LDAPResultSuccess, nil
}

func (h *handler) Close(boundDN string, conn net.Conn) error {
	h.server.logger.Trace("Connection closed", map[string]any{"bound_dn": boundDN, "remote": remoteAddr(conn)})
	return nil
}

// errProtocol is returned for requests the wire library decoded but the
// directory cannot interpret.
var errProtocol = errors.New("protocol error")

func searchScope(scope int) (ldap.SearchScope, error) {
	switch scope {
	case nldap.ScopeBaseObject:
		return ldap.ScopeBaseObject, nil
	case nldap.ScopeSingleLevel:
		return ldap.ScopeSingleLevel, nil
	case nldap.ScopeWholeSubtree:
		return ldap.ScopeWholeSubtree, nil
	default:
		return 0, fmt.Errorf("%w: unknown search scope %d", errProtocol, scope)
	}
}

// compileFilter turns an LDAP filter string into a predicate over entries.
// An empty filter matches everything.
func compileFilter(filter string) (ldap.Filter, error) {
	if filter == "" {
		return nil, nil
	}
	packet, ferr := nldap.CompileFilter(filter)
	if ferr != nil {
		return nil, fmt.Errorf("%w: invalid filter %q: %s", errProtocol, filter, ferr.Error())
	}
	return packetFilter(packet), nil
}

func packetFilter(packet *ber.Packet) ldap.Filter {
	return func(entry *ldap.Entry) bool {
		matched, code := nldap.ServerApplyFilter(packet, toWireEntry(entry, nil))
		return code == nldap.LDAPResultSuccess && matched
	}
}

func toChanges(req nldap.ModifyRequest) []ldap.Change {
	var changes []ldap.Change
	add := func(op ldap.ChangeOperation, attrs []nldap.PartialAttribute) {
		for _, attr := range attrs {
			changes = append(changes, ldap.Change{Operation: op, Attribute: attr.AttrType, Values: attr.AttrVals})
		}
	}
	add(ldap.ChangeAdd, req.AddAttributes)
	add(ldap.ChangeDelete, req.DeleteAttributes)
	add(ldap.ChangeReplace, req.ReplaceAttributes)
	return changes
}

// resultCode maps a directory error onto the wire result code.
func resultCode(err error) nldap.LDAPResultCode {
	switch {
	case err == nil:
		return nldap.LDAPResultSuccess
	case errors.Is(err, errProtocol):
		return nldap.LDAPResultProtocolError
	case errors.Is(err, context.DeadlineExceeded):
		return nldap.LDAPResultTimeLimitExceeded
	default:
		return nldap.LDAPResultCode(ldap.ResultCodeOf(err))
	}
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
