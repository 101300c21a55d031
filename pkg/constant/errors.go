/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-27 12:08:15
 * @LastEditTime: 2026-10-12 21:04:10
 * @LastEditors: 安知鱼
 */
package constant

import "errors"

// 定义业务逻辑相关的标准错误
var (
	// ErrNotFound 表示资源未找到，可以由 Handler 转换为 404
	ErrNotFound = errors.New("资源未找到")
	// ErrConflict 表示资源冲突，可以由 Handler 转换为 409
	ErrConflict = errors.New("资源冲突")
	// ErrBadRequest 表示请求参数错误，可以由 Handler 转换为 400
	ErrBadRequest = errors.New("错误的请求")
	// ErrUnauthorized 表示未授权，可以由 Handler 转换为 401
	ErrUnauthorized = errors.New("未经授权的访问")
	// ErrInvalidToken 表示无效的令牌，可以由 Handler 转换为 401
	ErrInvalidToken = errors.New("无效令牌")
	// ErrInvalidPolicyType 表示无效的存储策略类型
	ErrInvalidPolicyType = errors.New("无效的存储策略类型")
	// ErrPolicySettingsInvalid 表示存储策略设置无效
	ErrPolicySettingsInvalid = errors.New("存储策略设置无效")
	// ErrInvalidPublicID 表示无效的公共ID，可以由 Handler 转换为 400
	ErrInvalidPublicID = errors.New("无效的公共ID")

	// ErrDuplicateKey 表示唯一键冲突，校验和并发写入时出现，属于可重试的瞬时错误
	ErrDuplicateKey = errors.New("唯一键冲突")
	// ErrInvalidPayload 表示上传的资源内容无法解析，可以由 Handler 转换为 400
	ErrInvalidPayload = errors.New("无效的资源内容")
	// ErrPayloadTooLarge 表示上传的资源超出大小限制，可以由 Handler 转换为 413
	ErrPayloadTooLarge = errors.New("资源大小超出限制")
	// ErrEmptyContent 表示评论内容在清洗后为空
	ErrEmptyContent = errors.New("内容不能为空")
)
