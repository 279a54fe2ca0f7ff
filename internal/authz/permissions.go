package authz

// Permission keys used across the payroll platform.
const (
	PermApprovePayroll     = "approve_payroll"
	PermRunPayroll         = "payroll.run"
	PermExportBankSchedule = "export_bank_schedule"
	PermReadPII            = "pii.read"
	PermReadOwnPayslip     = "payslip.read_self"
	PermManageRoles        = "manage_roles"
	PermManageGrants       = "manage_grants"
	PermManageCatalog      = "manage_catalog"
)

// BuiltinPermissions is the catalog seeded at install time.
var BuiltinPermissions = []Permission{
	{Key: PermApprovePayroll, Category: "payroll"},
	{Key: PermRunPayroll, Category: "payroll"},
	{Key: PermExportBankSchedule, Category: "payroll"},
	{Key: PermReadPII, Category: "employee"},
	{Key: PermReadOwnPayslip, Category: "employee"},
	{Key: PermManageRoles, Category: "admin"},
	{Key: PermManageGrants, Category: "admin"},
	{Key: PermManageCatalog, Category: "admin"},
}

// Builtin role codes.
const (
	RolePlatformAdmin     = "PLATFORM_ADMIN"
	RoleOrgPayrollAdmin   = "ORG_PAYROLL_ADMIN"
	RoleCompanyHR         = "COMPANY_HR"
	RoleProjectSupervisor = "PROJECT_SUPERVISOR"
	RoleEmployee          = "EMPLOYEE"
)

// BuiltinRoles is the role catalog seeded at install time. Ranks are spaced
// to leave room for operator-defined roles between tiers.
var BuiltinRoles = []Role{
	{
		Code: RolePlatformAdmin,
		Tier: TierPlatform,
		Rank: 100,
		InherentPermissions: []string{
			PermApprovePayroll, PermRunPayroll, PermExportBankSchedule,
			PermReadPII, PermManageRoles, PermManageGrants, PermManageCatalog,
		},
	},
	{
		Code: RoleOrgPayrollAdmin,
		Tier: TierOrganization,
		Rank: 80,
		InherentPermissions: []string{
			PermApprovePayroll, PermRunPayroll, PermExportBankSchedule,
			PermReadPII, PermManageRoles, PermManageGrants,
		},
	},
	{
		Code: RoleCompanyHR,
		Tier: TierCompany,
		Rank: 60,
		InherentPermissions: []string{
			PermRunPayroll, PermReadPII,
		},
	},
	{
		Code: RoleProjectSupervisor,
		Tier: TierProject,
		Rank: 40,
		InherentPermissions: []string{
			PermRunPayroll,
		},
	},
	{
		Code: RoleEmployee,
		Tier: TierSelf,
		Rank: 10,
		InherentPermissions: []string{
			PermReadOwnPayslip,
		},
	},
}
