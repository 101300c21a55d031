/*
 * @Description: 存储策略模型
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-12 21:52:03
 * @LastEditors: 安知鱼
 */
package model

import (
	"strings"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
)

type StoragePolicySettings map[string]interface{}

// GetString 是一个辅助方法，用于从 settings map 中安全地获取字符串值。
// 如果键不存在，或者值的类型不是字符串，则返回提供的默认值。
func (s StoragePolicySettings) GetString(key, defaultValue string) string {
	if val, ok := s[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// StoragePolicy 描述了一个远程对象存储的连接信息。
// 资源服务只使用一个策略，它由配置文件构建。
type StoragePolicy struct {
	Name       string                     `json:"name"`
	Type       constant.StoragePolicyType `json:"type"`
	Server     string                     `json:"server"`
	BucketName string                     `json:"bucket_name"`
	AccessKey  string                     `json:"access_key"`
	SecretKey  string                     `json:"secret_key"`
	BasePath   string                     `json:"base_path"`
	Settings   StoragePolicySettings      `json:"settings"`
}

// CleanBasePath 返回去除首尾斜杠的基础路径
func (p *StoragePolicy) CleanBasePath() string {
	return strings.Trim(p.BasePath, "/")
}

// CDNDomain 返回配置的访问域名（不带结尾斜杠）
func (p *StoragePolicy) CDNDomain() string {
	return strings.TrimSuffix(p.Settings.GetString(constant.CDNDomainSettingKey, ""), "/")
}
