/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-08-11 18:38:27
 * @LastEditTime: 2026-10-16 18:02:44
 * @LastEditors: 安知鱼
 */
package auth

import "github.com/golang-jwt/jwt/v5"

// ClaimsKey 是用于在 gin.Context 中存储和检索认证信息的键。
const ClaimsKey = "user_claims"

// 角色
const (
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

// CustomClaims 定义了 JWT 的自定义 Claims 结构体
type CustomClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin 是否为管理员
func (c *CustomClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
