/*
 * @Description: 校验和记录模型，一个物理文件对应一条记录
 * @Author: 安知鱼
 * @Date: 2026-10-12 21:30:02
 * @LastEditTime: 2026-10-12 21:30:02
 * @LastEditors: 安知鱼
 */
package model

import (
	"time"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
)

// ChecksumRecord 记录了一个物理文件（按 sha256 去重）被逻辑资源引用的次数。
// PublicURL 只有在物理上传完成并 Attach 之后才可信。
type ChecksumRecord struct {
	ID              uint                       `json:"id"`
	Checksum        string                     `json:"checksum"`
	RefCount        int                        `json:"ref_count"`
	StorageProvider constant.StoragePolicyType `json:"storage_provider"`
	ObjectKey       string                     `json:"object_key"`
	PublicURL       string                     `json:"public_url"`
	ContentType     string                     `json:"content_type"`
	FileSize        int64                      `json:"file_size"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// IsUploaded 判断物理文件是否已经上传完成
func (r *ChecksumRecord) IsUploaded() bool {
	return r.ObjectKey != "" && r.PublicURL != ""
}
