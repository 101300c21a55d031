/*
 * @Description: 逻辑资源与上传结果模型
 * @Author: 安知鱼
 * @Date: 2026-10-12 21:41:18
 * @LastEditTime: 2026-10-13 09:02:55
 * @LastEditors: 安知鱼
 */
package model

import "time"

// Asset 是一个轻量的逻辑资源记录，它引用一个 ChecksumRecord。
// 多个 Asset 可以指向同一个物理文件。
type Asset struct {
	ID         uint      `json:"-"`
	ChecksumID uint      `json:"-"`
	Checksum   string    `json:"checksum"`
	FileName   string    `json:"file_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// UploadedAsset 是存储提供者在一次物理上传后返回的结果，不会被直接持久化，
// 而是被写回 ChecksumRecord。
type UploadedAsset struct {
	URL         string `json:"url"`
	ProviderID  string `json:"provider_id"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	Checksum    string `json:"checksum,omitempty"`
}

// AssetResponse 是用于API响应的资源数据传输对象 (DTO)。
type AssetResponse struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Checksum     string    `json:"checksum"`
	FileName     string    `json:"file_name"`
	ContentType  string    `json:"content_type"`
	FileSize     int64     `json:"file_size"`
	RefCount     int       `json:"ref_count"`
	Deduplicated bool      `json:"deduplicated"`
	CreatedAt    time.Time `json:"created_at"`
}
