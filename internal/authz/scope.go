package authz

import (
	"context"
	"fmt"
	"strings"
)

// ScopeType classifies the tenancy object an action applies to.
type ScopeType string

const (
	ScopeGlobal       ScopeType = "GLOBAL"
	ScopeOrganization ScopeType = "ORGANIZATION"
	ScopeCompany      ScopeType = "COMPANY"
	ScopeProject      ScopeType = "PROJECT"
	// ScopeSelf identifies resources owned by the acting subject. It sits
	// outside the containment hierarchy: a SELF node never generalizes to
	// company or organization scopes.
	ScopeSelf ScopeType = "SELF"
)

// ParseScopeType validates a raw scope type string at the API boundary.
func ParseScopeType(raw string) (ScopeType, error) {
	switch ScopeType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeOrganization:
		return ScopeOrganization, nil
	case ScopeCompany:
		return ScopeCompany, nil
	case ScopeProject:
		return ScopeProject, nil
	case ScopeSelf:
		return ScopeSelf, nil
	default:
		return "", fmt.Errorf("%w: unknown scope type %q", ErrInvalidInput, raw)
	}
}

// ScopeNode is a concrete scope instance. ID is required for every type
// except GLOBAL. For SELF nodes the ID is the user id owning the resource.
type ScopeNode struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// GlobalScope is the root of the containment hierarchy.
var GlobalScope = ScopeNode{Type: ScopeGlobal}

// OrganizationScope returns an ORGANIZATION node.
func OrganizationScope(id string) ScopeNode { return ScopeNode{Type: ScopeOrganization, ID: id} }

// CompanyScope returns a COMPANY node.
func CompanyScope(id string) ScopeNode { return ScopeNode{Type: ScopeCompany, ID: id} }

// ProjectScope returns a PROJECT node.
func ProjectScope(id string) ScopeNode { return ScopeNode{Type: ScopeProject, ID: id} }

// SelfScope returns a SELF node owned by the given user.
func SelfScope(ownerUserID string) ScopeNode { return ScopeNode{Type: ScopeSelf, ID: ownerUserID} }

// Validate checks the type/id shape of the node.
func (n ScopeNode) Validate() error {
	switch n.Type {
	case ScopeGlobal:
		if n.ID != "" {
			return fmt.Errorf("%w: GLOBAL scope carries no id", ErrInvalidInput)
		}
	case ScopeOrganization, ScopeCompany, ScopeProject, ScopeSelf:
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("%w: %s scope requires an id", ErrInvalidInput, n.Type)
		}
	default:
		return fmt.Errorf("%w: unknown scope type %q", ErrInvalidInput, n.Type)
	}
	return nil
}

func (n ScopeNode) String() string {
	if n.ID == "" {
		return string(n.Type)
	}
	return string(n.Type) + ":" + n.ID
}

// Directory resolves containment between tenancy objects. Implementations
// look up company→organization and project→company edges in the tenancy
// tables and must return ErrScopeNotFound (wrapped) when the child object
// does not exist.
type Directory interface {
	// ParentOf returns the immediate parent of the node. GLOBAL has no
	// parent; callers never ask for it.
	ParentOf(ctx context.Context, node ScopeNode) (ScopeNode, error)
}

// Graph walks the containment hierarchy using the directory.
type Graph struct {
	dir Directory
}

// NewGraph constructs a scope graph over the given directory.
func NewGraph(dir Directory) (*Graph, error) {
	if dir == nil {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}
	return &Graph{dir: dir}, nil
}

// maxDepth bounds the ancestor walk; the hierarchy is four levels deep, so
// anything longer indicates a corrupted directory edge.
const maxDepth = 8

// Ancestors returns the containment chain from the node itself up to GLOBAL,
// narrowest first. SELF returns only itself. A dangling tenancy reference
// surfaces as ErrScopeNotFound; resolution must treat that as a hard error
// rather than defaulting open or closed.
func (g *Graph) Ancestors(ctx context.Context, node ScopeNode) ([]ScopeNode, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	if node.Type == ScopeSelf {
		return []ScopeNode{node}, nil
	}

	chain := make([]ScopeNode, 0, 4)
	current := node
	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: containment chain for %s exceeds depth %d", ErrScopeNotFound, node, maxDepth)
		}
		chain = append(chain, current)
		switch current.Type {
		case ScopeGlobal:
			return chain, nil
		case ScopeOrganization:
			current = GlobalScope
		default:
			parent, err := g.dir.ParentOf(ctx, current)
			if err != nil {
				return nil, fmt.Errorf("resolve parent of %s: %w", current, err)
			}
			current = parent
		}
	}
}

func scopeInChain(chain []ScopeNode, candidate ScopeNode) bool {
	for _, n := range chain {
		if n == candidate {
			return true
		}
	}
	return false
}
