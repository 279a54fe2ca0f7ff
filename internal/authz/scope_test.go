package authz_test

import (
	"context"
	"errors"
	"testing"

	"paylane.org/internal/authz"
	"paylane.org/internal/store/memory"
)

func newGraph(t *testing.T) (*authz.Graph, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	st.AddCompany("c-9", "org-42")
	st.AddProject("proj-7", "c-9")
	g, err := authz.NewGraph(st)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g, st
}

func TestAncestorsProjectChain(t *testing.T) {
	g, _ := newGraph(t)
	chain, err := g.Ancestors(context.Background(), authz.ProjectScope("proj-7"))
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	want := []authz.ScopeNode{
		authz.ProjectScope("proj-7"),
		authz.CompanyScope("c-9"),
		authz.OrganizationScope("org-42"),
		authz.GlobalScope,
	}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d (%v)", len(chain), len(want), chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %v, want %v", i, chain[i], want[i])
		}
	}
}

func TestAncestorsGlobal(t *testing.T) {
	g, _ := newGraph(t)
	chain, err := g.Ancestors(context.Background(), authz.GlobalScope)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(chain) != 1 || chain[0] != authz.GlobalScope {
		t.Fatalf("chain = %v, want just GLOBAL", chain)
	}
}

func TestAncestorsSelfIsIsolated(t *testing.T) {
	g, _ := newGraph(t)
	chain, err := g.Ancestors(context.Background(), authz.SelfScope("u-1"))
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(chain) != 1 || chain[0] != authz.SelfScope("u-1") {
		t.Fatalf("SELF chain = %v, want the node alone", chain)
	}
}

func TestAncestorsDanglingProject(t *testing.T) {
	g, _ := newGraph(t)
	_, err := g.Ancestors(context.Background(), authz.ProjectScope("ghost"))
	if !errors.Is(err, authz.ErrScopeNotFound) {
		t.Fatalf("err = %v, want ErrScopeNotFound", err)
	}
}

func TestParseScopeType(t *testing.T) {
	cases := []struct {
		raw     string
		want    authz.ScopeType
		wantErr bool
	}{
		{"GLOBAL", authz.ScopeGlobal, false},
		{" company ", authz.ScopeCompany, false},
		{"self", authz.ScopeSelf, false},
		{"REGION", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := authz.ParseScopeType(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, authz.ErrInvalidInput) {
				t.Errorf("ParseScopeType(%q) err = %v, want ErrInvalidInput", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseScopeType(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestScopeNodeValidate(t *testing.T) {
	if err := authz.GlobalScope.Validate(); err != nil {
		t.Errorf("GLOBAL without id should validate, got %v", err)
	}
	if err := (authz.ScopeNode{Type: authz.ScopeGlobal, ID: "x"}).Validate(); !errors.Is(err, authz.ErrInvalidInput) {
		t.Errorf("GLOBAL with id: err = %v, want ErrInvalidInput", err)
	}
	if err := (authz.ScopeNode{Type: authz.ScopeCompany}).Validate(); !errors.Is(err, authz.ErrInvalidInput) {
		t.Errorf("COMPANY without id: err = %v, want ErrInvalidInput", err)
	}
}
