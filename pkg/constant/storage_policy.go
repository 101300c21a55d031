/*
 * @Description:
 * @Author: 安知鱼
 * @Date: 2025-06-23 15:10:56
 * @LastEditTime: 2026-10-12 21:10:37
 * @LastEditors: 安知鱼
 */
package constant

// StoragePolicyType 定义了存储策略的类型，提供了更强的类型安全
type StoragePolicyType string

// 定义支持的存储策略类型常量
const (
	PolicyTypeLocal      StoragePolicyType = "local"
	PolicyTypeTencentCOS StoragePolicyType = "tencent_cos"
	PolicyTypeAliOSS     StoragePolicyType = "aliyun_oss"
	PolicyTypeS3         StoragePolicyType = "aws_s3"
	PolicyTypeQiniu      StoragePolicyType = "qiniu_kodo"

	// CDNDomainSettingKey 是存储策略中定义公网访问域名的键
	CDNDomainSettingKey = "cdn_domain"
	// RegionSettingKey 是存储策略中定义区域的键（S3 使用）
	RegionSettingKey = "region"
)

// 默认的本地存储配置
const (
	DefaultLocalAssetPath = "data/storage/assets" // 相对于应用根目录
	LocalAssetRoute       = "/static/assets"
)

// IsValid 检查给定的类型是否是受支持的存储策略类型
func (t StoragePolicyType) IsValid() bool {
	switch t {
	case PolicyTypeLocal, PolicyTypeTencentCOS, PolicyTypeAliOSS, PolicyTypeS3, PolicyTypeQiniu:
		return true
	default:
		return false
	}
}
