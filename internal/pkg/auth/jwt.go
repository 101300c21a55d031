/*
 * @Description: 访问令牌的签发与解析
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-16 18:06:15
 * @LastEditors: 安知鱼
 */
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
)

const issuer = "bd-travel-spirit"

// DefaultTokenTTL 访问令牌默认有效期
const DefaultTokenTTL = 12 * time.Hour

// GenerateToken 为指定主体签发访问令牌，ttl <= 0 时使用默认有效期
func GenerateToken(subject, role string, ttl time.Duration, secretKey []byte) (string, error) {
	if len(secretKey) == 0 {
		return "", fmt.Errorf("JWT Secret 不能为空")
	}
	if subject == "" {
		return "", fmt.Errorf("%w: 令牌主体不能为空", constant.ErrBadRequest)
	}
	if role != RoleAdmin && role != RoleSupport {
		return "", fmt.Errorf("%w: 未知角色 %q", constant.ErrBadRequest, role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := CustomClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

// ParseToken 解析 JWT Token
func ParseToken(tokenStr string, secretKey []byte) (*CustomClaims, error) {
	if len(secretKey) == 0 {
		return nil, fmt.Errorf("JWT Secret 不能为空")
	}

	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secretKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constant.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, constant.ErrInvalidToken
	}

	return claims, nil
}
