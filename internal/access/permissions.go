package access

// Core permission keys owned by the access subsystem itself. Installed
// feature scripts register their own namespaced keys at install time.
const (
	PermViewLocked   = "page.view_locked"
	PermAdminAccess  = "admin.access"
	PermManageUsers  = "users.manage"
	PermManageGroups = "groups.manage"
	PermManagePages  = "pages.manage"
)

// BuiltinPermissions are ensured at startup.
var BuiltinPermissions = []PermissionDefinition{
	{Key: PermViewLocked, Category: "pages", Name: "View locked pages"},
	{Key: PermAdminAccess, Category: "admin", Name: "Access the admin area"},
	{Key: PermManageUsers, Category: "admin", Name: "Manage user accounts"},
	{Key: PermManageGroups, Category: "admin", Name: "Manage groups and permissions"},
	{Key: PermManagePages, Category: "admin", Name: "Manage page access rules"},
}
