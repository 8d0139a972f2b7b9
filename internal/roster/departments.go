package roster

import (
	"strconv"
	"strings"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

var departmentNameReplacer = strings.NewReplacer(" / ", " - ")

// NormalizeDepartmentName makes a department name safe and readable as an
// RDN value: " / " becomes " - ", any other "/" becomes "&", and surrounding
// whitespace is trimmed.
func NormalizeDepartmentName(name string) string {
	name = departmentNameReplacer.Replace(name)
	name = strings.ReplaceAll(name, "/", "&")
	return strings.TrimSpace(name)
}

// NormalizeDepartments normalizes every name and then de-duplicates names
// across the whole list, in list order: the first "Engineering" keeps its
// name, the next becomes "Engineering2", then "Engineering3". Comparison is
// case-insensitive, matching DN equality. The name of the custom group
// container is reserved, so a department called "CustomGroups" becomes
// "CustomGroups2". The input is not modified.
func NormalizeDepartments(deps []Department) []Department {
	out := make([]Department, len(deps))
	seen := make(map[string]bool, len(deps)+1)
	seen[strings.ToLower(ldap.CustomGroupsContainer)] = true

	for i, d := range deps {
		base := NormalizeDepartmentName(d.Name)
		name := base
		for idx := 2; seen[strings.ToLower(name)]; idx++ {
			name = base + strconv.Itoa(idx)
		}
		seen[strings.ToLower(name)] = true

		d.Name = name
		out[i] = d
	}
	return out
}

// DepartmentNode is a department placed in the tree.
type DepartmentNode struct {
	Department
	Parent   *DepartmentNode
	Fragment ldap.DN // ou=<name>,ou=<parent>,...,ou=<root>
}

// Ancestry returns the node followed by each ancestor up to the root.
func (n *DepartmentNode) Ancestry() []*DepartmentNode {
	var chain []*DepartmentNode
	for cur := n; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	return chain
}

// Depth is the number of departments from the root to this node, inclusive.
func (n *DepartmentNode) Depth() int {
	return len(n.Ancestry())
}

// DepartmentTree is the validated department hierarchy.
type DepartmentTree struct {
	nodes map[string]*DepartmentNode
	order []*DepartmentNode
	root  *DepartmentNode
}

// BuildDepartmentTree links departments by ParentID and derives each node's
// DN fragment. It fails with *MalformedRosterError unless the departments
// form exactly one tree: one root, no duplicate ids, no missing parents, no
// cycles.
func BuildDepartmentTree(deps []Department) (*DepartmentTree, error) {
	tree := &DepartmentTree{nodes: make(map[string]*DepartmentNode, len(deps))}

	for _, d := range deps {
		if d.ID == "" {
			return nil, &MalformedRosterError{DepartmentID: d.ID, Reason: "department has no id"}
		}
		if _, exists := tree.nodes[d.ID]; exists {
			return nil, &MalformedRosterError{DepartmentID: d.ID, Reason: "duplicate department id"}
		}
		node := &DepartmentNode{Department: d}
		tree.nodes[d.ID] = node
		tree.order = append(tree.order, node)
	}

	for _, node := range tree.order {
		if node.ParentID == "" {
			if tree.root != nil {
				return nil, &MalformedRosterError{
					DepartmentID: node.ID,
					Reason:       "second root department (first is " + tree.root.ID + ")",
				}
			}
			tree.root = node
			continue
		}
		parent, ok := tree.nodes[node.ParentID]
		if !ok {
			return nil, &MalformedRosterError{DepartmentID: node.ID, Reason: "parent " + node.ParentID + " does not exist"}
		}
		node.Parent = parent
	}

	if len(tree.order) > 0 && tree.root == nil {
		return nil, &MalformedRosterError{DepartmentID: tree.order[0].ID, Reason: "no root department"}
	}

	if err := tree.detectCycles(); err != nil {
		return nil, err
	}

	for _, node := range tree.order {
		node.Fragment = fragmentFor(node)
	}

	return tree, nil
}

// detectCycles walks each node's parent chain, tracking the nodes on the
// current path.
func (t *DepartmentTree) detectCycles() error {
	visited := make(map[string]bool, len(t.order))
	onPath := make(map[string]bool)

	var walk func(*DepartmentNode) error
	walk = func(node *DepartmentNode) error {
		if onPath[node.ID] {
			return &MalformedRosterError{DepartmentID: node.ID, Reason: "circular parent reference"}
		}
		if visited[node.ID] {
			return nil
		}

		visited[node.ID] = true
		onPath[node.ID] = true

		if node.Parent != nil {
			if err := walk(node.Parent); err != nil {
				return err
			}
		}

		onPath[node.ID] = false
		return nil
	}

	for _, node := range t.order {
		if err := walk(node); err != nil {
			return err
		}
	}
	return nil
}

func fragmentFor(node *DepartmentNode) ldap.DN {
	chain := node.Ancestry()
	parts := make([]ldap.DN, len(chain))
	for i, n := range chain {
		parts[i] = ldap.NewDN("ou", n.Name)
	}
	return ldap.JoinDN(parts...)
}

// Get returns the node with the given id.
func (t *DepartmentTree) Get(id string) (*DepartmentNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns every node in fetch order.
func (t *DepartmentTree) Nodes() []*DepartmentNode {
	return t.order
}

// Root returns the root department, or nil for an empty tree.
func (t *DepartmentTree) Root() *DepartmentNode {
	return t.root
}

func (t *DepartmentTree) Len() int {
	return len(t.order)
}
