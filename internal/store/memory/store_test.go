package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"paylane.org/internal/authz"
)

func TestSeedLoadsBuiltinCatalog(t *testing.T) {
	st := NewStore()
	if err := st.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	roles, err := st.ListRoles(context.Background())
	if err != nil || len(roles) != len(authz.BuiltinRoles) {
		t.Fatalf("roles = %d, err = %v; want %d", len(roles), err, len(authz.BuiltinRoles))
	}
	perms, err := st.ListPermissions(context.Background())
	if err != nil || len(perms) != len(authz.BuiltinPermissions) {
		t.Fatalf("permissions = %d, err = %v; want %d", len(perms), err, len(authz.BuiltinPermissions))
	}
	// Seeding twice must surface the conflict, not silently overwrite.
	if err := st.Seed(context.Background()); !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("second seed err = %v, want ErrConflict", err)
	}
}

func TestRevokeRaceSingleWinner(t *testing.T) {
	st := NewStore()
	_, err := st.CreateAssignment(context.Background(), authz.Assignment{
		ID: "a1", UserID: "u1", RoleCode: "X", Scope: authz.GlobalScope,
	})
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deleted, err := st.RevokeAssignment(context.Background(), "a1")
			if err != nil {
				t.Errorf("RevokeAssignment: %v", err)
				return
			}
			if deleted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	st := NewStore()
	st.AddCompany("c-1", "org-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, err := st.CreateGrant(context.Background(), authz.Grant{
				ID:            fmt.Sprintf("g-%d", n),
				SubjectUserID: "u1",
				PermissionKey: "pii.read",
				Scope:         authz.CompanyScope("c-1"),
				Effect:        authz.EffectAllow,
			})
			if err != nil {
				t.Errorf("CreateGrant: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := st.GrantsFor(context.Background(), []string{"u1"}, nil); err != nil {
				t.Errorf("GrantsFor: %v", err)
			}
		}()
	}
	wg.Wait()

	grants, err := st.GrantsFor(context.Background(), []string{"u1"}, nil)
	if err != nil || len(grants) != 8 {
		t.Fatalf("grants = %d, err = %v; want 8", len(grants), err)
	}
}

func TestGrantsForFiltersBySubject(t *testing.T) {
	st := NewStore()
	mk := func(id, user, role string) {
		if _, err := st.CreateGrant(context.Background(), authz.Grant{
			ID: id, SubjectUserID: user, SubjectRoleCode: role,
			PermissionKey: "pii.read", Scope: authz.CompanyScope("c-1"), Effect: authz.EffectDeny,
		}); err != nil {
			t.Fatalf("CreateGrant(%s): %v", id, err)
		}
	}
	mk("g1", "u1", "")
	mk("g2", "u2", "")
	mk("g3", "", "COMPANY_HR")

	grants, err := st.GrantsFor(context.Background(), []string{"u1"}, []string{"COMPANY_HR"})
	if err != nil {
		t.Fatalf("GrantsFor: %v", err)
	}
	if len(grants) != 2 || grants[0].ID != "g1" || grants[1].ID != "g3" {
		t.Fatalf("grants = %v", grants)
	}
}

func TestAuditEntriesReturnsCopy(t *testing.T) {
	st := NewStore()
	if err := st.Record(context.Background(), authz.AuditEntry{Action: "authz.test"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries := st.AuditEntries()
	entries[0].Action = "mutated"
	if st.AuditEntries()[0].Action != "authz.test" {
		t.Fatal("AuditEntries must return a copy")
	}
}
