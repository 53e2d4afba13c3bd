package auth

// Administrative roles recognized by the API.
const (
	// RoleAccessAdmin manages vendors, grants and tokens.
	RoleAccessAdmin = "access-admin"
	// RoleApprover approves or denies pending grants.
	RoleApprover = "approver"
	// RoleSecurityOfficer may revoke, including the platform-wide emergency revoke.
	RoleSecurityOfficer = "security-officer"
	// RoleAuditor reads activity, sessions and analytics.
	RoleAuditor = "auditor"
	// RoleService may call the authorization check on behalf of another service.
	RoleService = "service"
)

// BuiltinRoles lists every role in the order above.
var BuiltinRoles = []string{RoleAccessAdmin, RoleApprover, RoleSecurityOfficer, RoleAuditor, RoleService}
