package models

// Role names seeded at bootstrap.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// Permission names. The namespace is flat and case-sensitive.
const (
	PermCreateUser         = "create_user"
	PermReadUser           = "read_user"
	PermUpdateUser         = "update_user"
	PermDeleteUser         = "delete_user"
	PermCountUser          = "count_user"
	PermVerifyUserPIN      = "verify_user_pin"
	PermForgotUserPassword = "forgot_user_password"
	PermResetUserPassword  = "reset_user_password"
)

// permissionAliases maps legacy spellings onto their canonical name.
var permissionAliases = map[string]string{
	"count_users_pin":      PermVerifyUserPIN,
	"forget_user_password": PermForgotUserPassword,
}

// CanonicalPermission resolves an alias to its canonical permission name.
// Unknown names are returned unchanged.
func CanonicalPermission(name string) string {
	if canonical, ok := permissionAliases[name]; ok {
		return canonical
	}
	return name
}

// Role is a named authorization class.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Permission is a named capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RolePermission is one row of the role↔permission join. A role's
// permission set is exactly the set of its join rows.
type RolePermission struct {
	RoleID       int64 `json:"role_id"`
	PermissionID int64 `json:"permission_id"`
}

// RoleSeed describes a role and the permissions granted to it at bootstrap.
type RoleSeed struct {
	Name        string
	Description string
	Permissions []string
}

// PermissionDescriptions lists every seeded permission with a description.
var PermissionDescriptions = map[string]string{
	PermCreateUser:         "Create users",
	PermReadUser:           "Read users",
	PermUpdateUser:         "Update users",
	PermDeleteUser:         "Delete users",
	PermCountUser:          "Count users",
	PermVerifyUserPIN:      "Verify a password reset PIN",
	PermForgotUserPassword: "Request a password reset PIN",
	PermResetUserPassword:  "Reset a password with a PIN",
}

// DefaultRoles is the bootstrap role→permission map.
var DefaultRoles = []RoleSeed{
	{
		Name:        RoleAdmin,
		Description: "Administrator",
		Permissions: []string{
			PermCreateUser, PermReadUser, PermUpdateUser, PermDeleteUser, PermCountUser,
			PermVerifyUserPIN, PermForgotUserPassword, PermResetUserPassword,
		},
	},
	{
		Name:        RoleManager,
		Description: "Manager",
		Permissions: []string{
			PermCreateUser, PermReadUser, PermUpdateUser, PermCountUser,
			PermForgotUserPassword, PermResetUserPassword,
		},
	},
	{
		Name:        RoleEmployee,
		Description: "Employee",
		Permissions: []string{
			PermCreateUser, PermReadUser,
			PermVerifyUserPIN, PermForgotUserPassword, PermResetUserPassword,
		},
	},
}
