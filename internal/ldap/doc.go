/*
Package ldap is the directory synthesis and query engine of virtual-ldap.

It turns a roster of departments and people into a DN-addressed tree and answers
bind, search and modify against it. Wire encoding lives in internal/server; this
package never sees protocol bytes.

# Tree Layout

Every entry lives below the configured root DN:

  - root (dcObject) and o=<organization>
  - ou=People: one organizationalUnit per department, persons below their department
  - ou=Groups: one groupOfNames per department, mirroring the OU hierarchy
  - ou=CustomGroups,ou=Groups: groups configured by member mail
  - cn=<admin>,<root>: one entry per configured admin

The root DSE (empty DN) and cn=Subschema sit outside the tree.

# Snapshots

A sync pass assembles entries and hands them to Layout.NewSnapshot, which freezes
them under a new generation id. Snapshots.Publish swaps the current snapshot in a
single atomic store. A search loads the snapshot once and sees only that
generation, no matter how many publishes happen while it runs.

# Membership

AddMember writes group.member and member.memberOf together. Department groups
contain their child department groups, and a person is a member of every group
from its department up to the root department.

# Authentication and Authorization

  - Admins bind with their configured plaintext password.
  - Persons bind with the password from the credential store, or the
    placeholder userPassword of their entry when the store has none.
  - Searches are allowed for the bound DN itself and for admins.
  - Modify requires an admin with CanModifyEntry.

Stored passwords use the {SSHA256} scheme (see HashPassword). Values without the
marker are compared as plaintext.

# Errors

Protocol-facing failures are *DirectoryError values carrying an LDAP result
code. Match them with errors.Is against ErrMalformedDN, ErrInvalidCredentials,
ErrInsufficientAccess and ErrUnavailable.

# Example Usage

	layout, err := ldap.NewLayout(ldap.DirectoryConfig{
		RootDN:       "dc=example,dc=com",
		Organization: "Example",
		Admins: []ldap.AdminIdentity{
			{CommonName: "keycloak", Password: "secret", CanModifyEntry: true},
		},
	})
	if err != nil {
		return err
	}

	snapshots := ldap.NewSnapshots()
	directory := ldap.NewDirectory(layout, snapshots, store, logger)

	err = directory.Bind(ctx, "cn=keycloak,dc=example,dc=com", "secret")
*/
package ldap
