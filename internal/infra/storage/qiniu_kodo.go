/*
 * @Description: 七牛云Kodo存储驱动实现
 * @Author: 安知鱼
 * @Date: 2025-12-01 10:00:00
 * @LastEditTime: 2026-10-14 12:55:40
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/qiniu/go-sdk/v7/auth"
	"github.com/qiniu/go-sdk/v7/storage"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// QiniuKodoStore 实现了 ObjectStore 接口
type QiniuKodoStore struct {
	mac           *auth.Credentials
	uploader      *storage.FormUploader
	bucketManager *storage.BucketManager
	policy        *model.StoragePolicy
	logger        *zap.Logger
}

// qiniuRegion 从 Server 字段解析区域
// 七牛云区域域名格式: https://up-z0.qiniup.com (华东)
// z0=华东, z1=华北, z2=华南, na0=北美, as0=东南亚
func qiniuRegion(server string) *storage.Region {
	server = strings.ToLower(server)
	switch {
	case strings.Contains(server, "up-z1"):
		return &storage.ZoneHuabei
	case strings.Contains(server, "up-z2"):
		return &storage.ZoneHuanan
	case strings.Contains(server, "up-na0"):
		return &storage.ZoneBeimei
	case strings.Contains(server, "up-as0"):
		return &storage.ZoneXinjiapo
	default:
		return &storage.ZoneHuadong
	}
}

// NewQiniuKodoStore 创建七牛云驱动
func NewQiniuKodoStore(policy *model.StoragePolicy, logger *zap.Logger) (*QiniuKodoStore, error) {
	if err := requireCredentials(policy, "七牛云"); err != nil {
		return nil, err
	}
	if policy.CDNDomain() == "" {
		return nil, fmt.Errorf("%w: 七牛云策略缺少访问域名配置", constant.ErrPolicySettingsInvalid)
	}

	mac := auth.New(policy.AccessKey, policy.SecretKey)
	cfg := storage.Config{
		UseHTTPS:      true,
		UseCdnDomains: false,
		Region:        qiniuRegion(policy.Server),
	}

	logger.Info("七牛云客户端已创建", zap.String("bucket", policy.BucketName))
	return &QiniuKodoStore{
		mac:           mac,
		uploader:      storage.NewFormUploader(&cfg),
		bucketManager: storage.NewBucketManager(mac, &cfg),
		policy:        policy,
		logger:        logger,
	}, nil
}

func (s *QiniuKodoStore) Name() constant.StoragePolicyType { return constant.PolicyTypeQiniu }

// Put 使用 insertOnly 上传策略，已存在的 key 会被拒绝
func (s *QiniuKodoStore) Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error) {
	putPolicy := storage.PutPolicy{
		Scope:      fmt.Sprintf("%s:%s", s.policy.BucketName, key),
		InsertOnly: 1,
	}
	upToken := putPolicy.UploadToken(s.mac)

	ret := storage.PutRet{}
	putExtra := storage.PutExtra{MimeType: contentType}
	err := s.uploader.Put(ctx, &ret, upToken, key, bytes.NewReader(content), int64(len(content)), &putExtra)
	if err != nil {
		if isQiniuExists(err) {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("上传文件到七牛云失败: %w", err)
	}

	return &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(content)),
		ETag:        ret.Hash,
	}, nil
}

// Head 获取对象元信息
func (s *QiniuKodoStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fileInfo, err := s.bucketManager.Stat(s.policy.BucketName, key)
	if err != nil {
		if isQiniuNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("获取七牛云对象信息失败: %w", err)
	}
	return &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: fileInfo.MimeType,
		Size:        fileInfo.Fsize,
		ETag:        fileInfo.Hash,
	}, nil
}

// Delete 删除对象
func (s *QiniuKodoStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.bucketManager.Delete(s.policy.BucketName, key); err != nil {
		if isQiniuNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("删除七牛云对象失败: %w", err)
	}
	return nil
}

// PublicURL 七牛云必须通过绑定的域名访问
func (s *QiniuKodoStore) PublicURL(key string) string {
	return joinURL(s.policy.CDNDomain(), key)
}

// 七牛云的错误码只出现在错误信息中：612 文件不存在，614 文件已存在
func isQiniuNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such file or directory") || strings.Contains(msg, "612")
}

func isQiniuExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file exists") || strings.Contains(msg, "614")
}
