package rbac

import "slices"

// 权限常量
const (
	// 管理操作
	PermissionInitialize   = "platform:initialize"
	PermissionReplayOutbox = "outbox:replay"

	// 普通操作
	PermissionCreateProduct = "product:create"
	PermissionContribute    = "product:contribute"
	PermissionClaimReward   = "reward:claim"
)

// 角色常量
const (
	RoleBacker = "backer"
	RoleAdmin  = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleBacker: {
		PermissionCreateProduct,
		PermissionContribute,
		PermissionClaimReward,
	},
	RoleAdmin: {
		PermissionInitialize,
		PermissionReplayOutbox,
		PermissionCreateProduct,
		PermissionContribute,
		PermissionClaimReward,
	},
}

// NormalizeRole 未声明角色的 token 视为普通用户
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleBacker
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	return slices.Contains(rolePermissions[NormalizeRole(role)], permission)
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(identity, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Identity:   identity,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Identity   string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
