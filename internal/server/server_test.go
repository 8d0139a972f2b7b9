package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	nldap "github.com/nmcclain/ldap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/virtual-ldap/internal/credential"
	"github.com/isometry/virtual-ldap/internal/ldap"
)

const (
	rootDN   = "dc=example,dc=com"
	peopleDN = "ou=People,o=Example,dc=example,dc=com"
	keycloak = "cn=keycloak,dc=example,dc=com"
	aliceDN  = "mail=alice@example.com,ou=Engineering,ou=Staff,ou=People,o=Example,dc=example,dc=com"
)

type recordingObserver struct {
	mu      sync.Mutex
	results map[string][]error
}

func (o *recordingObserver) ObserveOperation(operation string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string][]error)
	}
	o.results[operation] = append(o.results[operation], err)
}

func (o *recordingObserver) count(operation string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results[operation])
}

func newTestDirectory(t *testing.T) *ldap.Directory {
	t.Helper()
	layout, err := ldap.NewLayout(ldap.DirectoryConfig{
		RootDN:       rootDN,
		Organization: "Example",
		UserPassword: "userPass",
		Admins: []ldap.AdminIdentity{
			{CommonName: "keycloak", Password: "keycloak", CanModifyEntry: true},
		},
	})
	require.NoError(t, err)

	staff := ldap.NewDN("ou", "Staff")
	eng := ldap.JoinDN(ldap.NewDN("ou", "Engineering"), staff)
	staffGroup := layout.Group(staff, "Staff", "1")
	engGroup := layout.Group(eng, "Engineering", "2")
	require.NoError(t, ldap.AddMember(staffGroup, engGroup))

	alice := layout.Person(ldap.JoinDN(ldap.NewDN("mail", "alice@example.com"), eng), ldap.PersonAttributes{
		UID: "alice", CN: "Alice Liddell", GivenName: "Alice", SN: "Liddell", Mail: "alice@example.com",
	})
	bob := layout.Person(ldap.JoinDN(ldap.NewDN("mail", "bob@example.com"), staff), ldap.PersonAttributes{
		UID: "bob", CN: "Bob", Mail: "bob@example.com",
	})
	require.NoError(t, ldap.AddMemberToAll(alice, engGroup, staffGroup))
	require.NoError(t, ldap.AddMember(staffGroup, bob))

	snapshot, err := layout.NewSnapshot(
		[]*ldap.Entry{staffGroup, engGroup},
		[]*ldap.Entry{layout.OrganizationalUnit(staff, "Staff", "1"), layout.OrganizationalUnit(eng, "Engineering", "2")},
		[]*ldap.Entry{alice, bob},
	)
	require.NoError(t, err)

	snapshots := ldap.NewSnapshots()
	snapshots.Publish(snapshot)
	return ldap.NewDirectory(layout, snapshots, credential.NewMemoryStore(), nil)
}

func newTestHandler(t *testing.T) (*handler, *recordingObserver) {
	t.Helper()
	observer := &recordingObserver{}
	s := New(newTestDirectory(t), Config{}, nil, observer)
	t.Cleanup(s.Shutdown)
	return &handler{server: s}, observer
}

func TestHandler_Bind(t *testing.T) {
	h, observer := newTestHandler(t)

	tests := []struct {
		name     string
		dn       string
		password string
		want     nldap.LDAPResultCode
	}{
		{name: "anonymous", want: nldap.LDAPResultSuccess},
		{name: "admin", dn: keycloak, password: "keycloak", want: nldap.LDAPResultSuccess},
		{name: "person", dn: aliceDN, password: "userPass", want: nldap.LDAPResultSuccess},
		{name: "wrong password", dn: keycloak, password: "nope", want: nldap.LDAPResultInvalidCredentials},
		{name: "outside root", dn: "cn=x,dc=other,dc=com", password: "x", want: nldap.LDAPResultInsufficientAccessRights},
		{name: "malformed dn", dn: "garbage", password: "x", want: nldap.LDAPResultInvalidDNSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := h.Bind(tt.dn, tt.password, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
	assert.Equal(t, len(tests), observer.count("bind"))
}

func TestHandler_Search(t *testing.T) {
	h, observer := newTestHandler(t)

	tests := []struct {
		name       string
		boundDN    string
		req        nldap.SearchRequest
		wantCode   nldap.LDAPResultCode
		wantDNs    []string
		wantAttrs  []string
		checkAttrs bool
	}{
		{
			name:     "admin subtree filter",
			boundDN:  keycloak,
			req:      nldap.SearchRequest{BaseDN: peopleDN, Scope: nldap.ScopeWholeSubtree, Filter: "(uid=alice)"},
			wantCode: nldap.LDAPResultSuccess,
			wantDNs:  []string{aliceDN},
		},
		{
			name:     "attribute names and values match case-insensitively",
			boundDN:  keycloak,
			req:      nldap.SearchRequest{BaseDN: peopleDN, Scope: nldap.ScopeWholeSubtree, Filter: "(&(ObjectClass=inetOrgPerson)(MAIL=ALICE@example.com))"},
			wantCode: nldap.LDAPResultSuccess,
			wantDNs:  []string{aliceDN},
		},
		{
			name:     "self lookup",
			boundDN:  aliceDN,
			req:      nldap.SearchRequest{BaseDN: aliceDN, Scope: nldap.ScopeBaseObject, Filter: "(objectClass=*)"},
			wantCode: nldap.LDAPResultSuccess,
			wantDNs:  []string{aliceDN},
		},
		{
			name:       "projection",
			boundDN:    keycloak,
			req:        nldap.SearchRequest{BaseDN: aliceDN, Scope: nldap.ScopeBaseObject, Filter: "(objectClass=*)", Attributes: []string{"MAIL", "uid"}},
			wantCode:   nldap.LDAPResultSuccess,
			wantDNs:    []string{aliceDN},
			wantAttrs:  []string{"uid", "mail"},
			checkAttrs: true,
		},
		{
			name:       "no attributes",
			boundDN:    keycloak,
			req:        nldap.SearchRequest{BaseDN: aliceDN, Scope: nldap.ScopeBaseObject, Filter: "(objectClass=*)", Attributes: []string{"1.1"}},
			wantCode:   nldap.LDAPResultSuccess,
			wantDNs:    []string{aliceDN},
			checkAttrs: true,
		},
		{
			name:     "root dse anonymous",
			req:      nldap.SearchRequest{BaseDN: "", Scope: nldap.ScopeBaseObject, Filter: "(objectClass=*)"},
			wantCode: nldap.LDAPResultSuccess,
			wantDNs:  []string{""},
		},
		{
			name:     "anonymous organization search",
			req:      nldap.SearchRequest{BaseDN: rootDN, Scope: nldap.ScopeWholeSubtree, Filter: "(objectClass=*)"},
			wantCode: nldap.LDAPResultInsufficientAccessRights,
		},
		{
			name:     "malformed base",
			boundDN:  keycloak,
			req:      nldap.SearchRequest{BaseDN: "garbage", Scope: nldap.ScopeBaseObject},
			wantCode: nldap.LDAPResultInvalidDNSyntax,
		},
		{
			name:     "unknown scope",
			boundDN:  keycloak,
			req:      nldap.SearchRequest{BaseDN: rootDN, Scope: 7, Filter: "(objectClass=*)"},
			wantCode: nldap.LDAPResultProtocolError,
		},
		{
			name:     "invalid filter",
			boundDN:  keycloak,
			req:      nldap.SearchRequest{BaseDN: rootDN, Scope: nldap.ScopeWholeSubtree, Filter: "(uid=alice"},
			wantCode: nldap.LDAPResultProtocolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.Search(tt.boundDN, tt.req, nil)
			assert.Equal(t, tt.wantCode, result.ResultCode)
			if tt.wantCode != nldap.LDAPResultSuccess {
				assert.Error(t, err)
				assert.Empty(t, result.Entries)
				return
			}
			require.NoError(t, err)

			var got []string
			for _, e := range result.Entries {
				got = append(got, e.DN)
			}
			assert.Equal(t, tt.wantDNs, got)

			if tt.checkAttrs {
				var names []string
				for _, a := range result.Entries[0].Attributes {
					names = append(names, a.Name)
				}
				assert.ElementsMatch(t, tt.wantAttrs, names)
			}
		})
	}
	assert.Equal(t, len(tests), observer.count("search"))
}

func TestHandler_SearchAfterShutdown(t *testing.T) {
	s := New(newTestDirectory(t), Config{}, nil, nil)
	h := &handler{server: s}
	s.Shutdown()

	result, err := h.Search(keycloak, nldap.SearchRequest{BaseDN: rootDN, Scope: nldap.ScopeWholeSubtree}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, nldap.LDAPResultCode(nldap.LDAPResultOperationsError), result.ResultCode)
}

func TestHandler_Modify(t *testing.T) {
	h, observer := newTestHandler(t)

	replace := func(attr, value string) nldap.ModifyRequest {
		return nldap.ModifyRequest{
			Dn:                aliceDN,
			ReplaceAttributes: []nldap.PartialAttribute{{AttrType: attr, AttrVals: []string{value}}},
		}
	}

	code, err := h.Modify(keycloak, replace("userPassword", "n3w-secret"), nil)
	require.NoError(t, err)
	assert.Equal(t, nldap.LDAPResultCode(nldap.LDAPResultSuccess), code)

	code, _ = h.Bind(aliceDN, "n3w-secret", nil)
	assert.Equal(t, nldap.LDAPResultCode(nldap.LDAPResultSuccess), code)
	code, _ = h.Bind(aliceDN, "userPass", nil)
	assert.Equal(t, nldap.LDAPResultCode(nldap.LDAPResultInvalidCredentials), code)

	code, err = h.Modify(aliceDN, replace("userPassword", "self-service"), nil)
	require.NoError(t, err)
	assert.Equal(t, nldap.LDAPResultCode(nldap.LDAPResultInsufficientAccessRights), code)

	assert.Equal(t, 2, observer.count("modify"))
}

func TestToChanges(t *testing.T) {
	changes := toChanges(nldap.ModifyRequest{
		Dn:                aliceDN,
		AddAttributes:     []nldap.PartialAttribute{{AttrType: "description", AttrVals: []string{"a"}}},
		DeleteAttributes:  []nldap.PartialAttribute{{AttrType: "title"}},
		ReplaceAttributes: []nldap.PartialAttribute{{AttrType: "otpsecret", AttrVals: []string{"JBSWY3DP"}}},
	})

	assert.Equal(t, []ldap.Change{
		{Operation: ldap.ChangeAdd, Attribute: "description", Values: []string{"a"}},
		{Operation: ldap.ChangeDelete, Attribute: "title"},
		{Operation: ldap.ChangeReplace, Attribute: "otpsecret", Values: []string{"JBSWY3DP"}},
	}, changes)
}

func TestResultCode(t *testing.T) {
	tests := []struct {
		err  error
		want nldap.LDAPResultCode
	}{
		{err: nil, want: nldap.LDAPResultSuccess},
		{err: ldap.NewInvalidCredentialsError("cn=a"), want: nldap.LDAPResultInvalidCredentials},
		{err: ldap.NewUnavailableError("bind", "cn=a", errors.New("down")), want: nldap.LDAPResultUnavailable},
		{err: fmt.Errorf("search: %w", context.DeadlineExceeded), want: nldap.LDAPResultTimeLimitExceeded},
		{err: fmt.Errorf("%w: bad", errProtocol), want: nldap.LDAPResultProtocolError},
		{err: errors.New("boom"), want: nldap.LDAPResultOperationsError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, resultCode(tt.err))
		})
	}
}

func TestServer_EndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(newTestDirectory(t), Config{RequestTimeout: 5 * time.Second}, nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	conn, err := goldap.DialURL("ldap://" + ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Bind(keycloak, "nope")
	assert.True(t, goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials), "got %v", err)

	require.NoError(t, conn.Bind(keycloak, "keycloak"))

	result, err := conn.Search(goldap.NewSearchRequest(
		peopleDN, goldap.ScopeWholeSubtree, goldap.NeverDerefAliases, 0, 0, false,
		"(uid=alice)", []string{"mail", "uid"}, nil,
	))
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, aliceDN, result.Entries[0].DN)
	assert.Equal(t, "alice@example.com", result.Entries[0].GetAttributeValue("mail"))
	assert.Empty(t, result.Entries[0].GetAttributeValue("cn"))

	modify := goldap.NewModifyRequest(aliceDN, nil)
	modify.Replace("userPassword", []string{"wonderland"})
	require.NoError(t, conn.Modify(modify))

	require.NoError(t, conn.Bind(aliceDN, "wonderland"))

	s.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
