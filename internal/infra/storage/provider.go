/*
 * @Description: 定义了所有对象存储驱动需要遵守的接口和公共结构
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-14 11:20:47
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

var (
	// ErrObjectNotFound 表示对象在远端不存在
	ErrObjectNotFound = errors.New("对象不存在")
	// ErrObjectExists 表示条件写入因对象已存在而被拒绝
	ErrObjectExists = errors.New("对象已存在")
)

// ObjectInfo 描述远端的一个对象
type ObjectInfo struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	ETag        string
}

// ObjectStore 是各个云厂商驱动需要实现的最小接口。
//
// Put 必须是条件写入：当 key 已存在时返回 ErrObjectExists，而不是覆盖。
// Head 和 Delete 在对象不存在时返回 ErrObjectNotFound。
type ObjectStore interface {
	Name() constant.StoragePolicyType
	Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// NewObjectStore 根据存储策略类型创建对应的驱动
func NewObjectStore(policy *model.StoragePolicy, logger *zap.Logger) (ObjectStore, error) {
	if policy == nil {
		return nil, constant.ErrPolicySettingsInvalid
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch policy.Type {
	case constant.PolicyTypeLocal:
		return NewLocalStore(policy, logger)
	case constant.PolicyTypeS3:
		return NewAWSS3Store(context.Background(), policy, logger)
	case constant.PolicyTypeAliOSS:
		return NewAliOSSStore(policy, logger)
	case constant.PolicyTypeTencentCOS:
		return NewTencentCOSStore(policy, logger)
	case constant.PolicyTypeQiniu:
		return NewQiniuKodoStore(policy, logger)
	default:
		return nil, fmt.Errorf("%w: %q", constant.ErrInvalidPolicyType, policy.Type)
	}
}

// requireCredentials 校验云存储策略的必填字段
func requireCredentials(policy *model.StoragePolicy, vendor string) error {
	switch {
	case policy.BucketName == "":
		return fmt.Errorf("%w: %s策略缺少存储桶名称", constant.ErrPolicySettingsInvalid, vendor)
	case policy.AccessKey == "":
		return fmt.Errorf("%w: %s策略缺少AccessKey", constant.ErrPolicySettingsInvalid, vendor)
	case policy.SecretKey == "":
		return fmt.Errorf("%w: %s策略缺少SecretKey", constant.ErrPolicySettingsInvalid, vendor)
	}
	return nil
}

// ChecksumObjectKey 根据校验和构建对象键：{basePath}/{前两位}/{checksum}
func ChecksumObjectKey(basePath, checksum string) string {
	prefix := checksum
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return strings.TrimPrefix(path.Join(basePath, prefix, checksum), "/")
}

// joinURL 拼接访问域名和对象键
func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
