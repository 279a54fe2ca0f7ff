package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"paylane.org/internal/authz"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetRoleDecodesPermissions(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("select code, tier, rank, inherent_permissions, created_at.*from roles").
		WithArgs("COMPANY_HR").
		WillReturnRows(sqlmock.NewRows([]string{"code", "tier", "rank", "inherent_permissions", "created_at"}).
			AddRow("COMPANY_HR", "COMPANY", 60, []byte(`["payroll.run","pii.read"]`), time.Now()))

	role, err := st.GetRole(context.Background(), "COMPANY_HR")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role.Tier != authz.TierCompany || len(role.InherentPermissions) != 2 {
		t.Fatalf("role = %+v", role)
	}
	expectationsMet(t, mock)
}

func TestGetRoleNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("from roles").WithArgs("GONE").
		WillReturnRows(sqlmock.NewRows([]string{"code", "tier", "rank", "inherent_permissions", "created_at"}))

	_, err := st.GetRole(context.Background(), "GONE")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestCreateRoleConflict(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("insert into roles").
		WithArgs("COMPANY_HR", "COMPANY", 60, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := st.CreateRole(context.Background(), authz.Role{Code: "COMPANY_HR", Tier: authz.TierCompany, Rank: 60})
	if !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	expectationsMet(t, mock)
}

func TestCreatePermission(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Now().UTC()
	mock.ExpectQuery("insert into permissions").
		WithArgs("payroll.close", "payroll").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	perm, err := st.CreatePermission(context.Background(), authz.Permission{Key: "payroll.close", Category: "payroll"})
	if err != nil || !perm.CreatedAt.Equal(created) {
		t.Fatalf("perm = %+v, err = %v", perm, err)
	}
	expectationsMet(t, mock)
}

func TestAssignmentsForScansScope(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("select id, user_id, role_code, scope_type, scope_id, assigned_by, created_at.*from assignments").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "role_code", "scope_type", "scope_id", "assigned_by", "created_at"}).
			AddRow("a1", "u1", "ORG_PAYROLL_ADMIN", "ORGANIZATION", "org-42", "root", time.Now()).
			AddRow("a2", "u1", "PLATFORM_ADMIN", "GLOBAL", nil, "root", time.Now()))

	assignments, err := st.AssignmentsFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AssignmentsFor: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("assignments = %v", assignments)
	}
	if assignments[0].Scope != authz.OrganizationScope("org-42") {
		t.Errorf("scope = %v", assignments[0].Scope)
	}
	if assignments[1].Scope != authz.GlobalScope {
		t.Errorf("null scope_id must scan to GLOBAL, got %v", assignments[1].Scope)
	}
	expectationsMet(t, mock)
}

func TestCreateAssignmentErrorMapping(t *testing.T) {
	st, mock := newMockStore(t)
	a := authz.Assignment{ID: "a1", UserID: "u1", RoleCode: "COMPANY_HR", Scope: authz.CompanyScope("c-9"), AssignedBy: "root"}

	mock.ExpectQuery("insert into assignments").
		WithArgs("a1", "u1", "COMPANY_HR", "COMPANY", "c-9", "root").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	if _, err := st.CreateAssignment(context.Background(), a); !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("unique violation: err = %v, want ErrConflict", err)
	}

	mock.ExpectQuery("insert into assignments").
		WithArgs("a1", "u1", "COMPANY_HR", "COMPANY", "c-9", "root").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if _, err := st.CreateAssignment(context.Background(), a); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("fk violation: err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestRevokeAssignmentIdempotent(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("delete from assignments").WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from assignments").WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := st.RevokeAssignment(context.Background(), "a1")
	if err != nil || !deleted {
		t.Fatalf("first revoke = %v, %v", deleted, err)
	}
	deleted, err = st.RevokeAssignment(context.Background(), "a1")
	if err != nil || deleted {
		t.Fatalf("second revoke = %v, %v; want false, nil", deleted, err)
	}
	expectationsMet(t, mock)
}

func grantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "subject_user_id", "subject_role_code", "permission_key",
		"scope_type", "scope_id", "effect", "reason", "created_by", "created_at", "valid_until",
	})
}

func TestGrantsForMixedSubjects(t *testing.T) {
	st, mock := newMockStore(t)
	until := time.Now().Add(time.Hour).UTC()
	mock.ExpectQuery(`subject_user_id in \(\$1\) or subject_role_code in \(\$2, \$3\)`).
		WithArgs("u1", "ORG_PAYROLL_ADMIN", "COMPANY_HR").
		WillReturnRows(grantRows().
			AddRow("g1", "u1", nil, "approve_payroll", "PROJECT", "proj-7", "DENY", "conflict", "root", time.Now(), until).
			AddRow("g2", nil, "COMPANY_HR", "pii.read", "COMPANY", "c-9", "ALLOW", "audit", "root", time.Now(), nil))

	grants, err := st.GrantsFor(context.Background(), []string{"u1"}, []string{"ORG_PAYROLL_ADMIN", "COMPANY_HR"})
	if err != nil {
		t.Fatalf("GrantsFor: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants = %v", grants)
	}
	if grants[0].SubjectUserID != "u1" || grants[0].Effect != authz.EffectDeny || grants[0].ValidUntil == nil {
		t.Errorf("grant 0 = %+v", grants[0])
	}
	if grants[1].SubjectRoleCode != "COMPANY_HR" || grants[1].ValidUntil != nil {
		t.Errorf("grant 1 = %+v", grants[1])
	}
	expectationsMet(t, mock)
}

func TestGrantsForNoSubjectsSkipsQuery(t *testing.T) {
	st, mock := newMockStore(t)
	grants, err := st.GrantsFor(context.Background(), nil, nil)
	if err != nil || grants != nil {
		t.Fatalf("GrantsFor = %v, %v; want nil, nil", grants, err)
	}
	expectationsMet(t, mock)
}

func TestGetGrantNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("from grants").WithArgs("ghost").WillReturnRows(grantRows())

	_, err := st.GetGrant(context.Background(), "ghost")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestCreateGrant(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Now().UTC()
	mock.ExpectQuery("insert into grants").
		WithArgs("g1", "u1", nil, "approve_payroll", "PROJECT", "proj-7", "DENY", "conflict", "root", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	g, err := st.CreateGrant(context.Background(), authz.Grant{
		ID:            "g1",
		SubjectUserID: "u1",
		PermissionKey: "approve_payroll",
		Scope:         authz.ProjectScope("proj-7"),
		Effect:        authz.EffectDeny,
		Reason:        "conflict",
		CreatedBy:     "root",
	})
	if err != nil || !g.CreatedAt.Equal(created) {
		t.Fatalf("grant = %+v, err = %v", g, err)
	}
	expectationsMet(t, mock)
}

func TestParentOf(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("select organization_id from companies").WithArgs("c-9").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-42"))
	mock.ExpectQuery("select company_id from projects").WithArgs("proj-7").
		WillReturnRows(sqlmock.NewRows([]string{"company_id"}).AddRow("c-9"))
	mock.ExpectQuery("select organization_id from companies").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}))

	parent, err := st.ParentOf(context.Background(), authz.CompanyScope("c-9"))
	if err != nil || parent != authz.OrganizationScope("org-42") {
		t.Fatalf("company parent = %v, %v", parent, err)
	}
	parent, err = st.ParentOf(context.Background(), authz.ProjectScope("proj-7"))
	if err != nil || parent != authz.CompanyScope("c-9") {
		t.Fatalf("project parent = %v, %v", parent, err)
	}
	if _, err := st.ParentOf(context.Background(), authz.CompanyScope("ghost")); !errors.Is(err, authz.ErrScopeNotFound) {
		t.Fatalf("dangling company: err = %v, want ErrScopeNotFound", err)
	}
	if _, err := st.ParentOf(context.Background(), authz.GlobalScope); !errors.Is(err, authz.ErrScopeNotFound) {
		t.Fatalf("GLOBAL parent: err = %v, want ErrScopeNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestRecordAuditEntry(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("insert into audit_entries").
		WithArgs(sqlmock.AnyArg(), "root", "authz.grant.create", "grant:g1", nil, []byte(`{"effect":"DENY"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.Record(context.Background(), authz.AuditEntry{
		Actor:        "root",
		Action:       "authz.grant.create",
		TargetEntity: "grant:g1",
		After:        map[string]string{"effect": "DENY"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	expectationsMet(t, mock)
}
