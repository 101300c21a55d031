/*
 * @Description: 阿里云OSS存储驱动实现
 * @Author: 安知鱼
 * @Date: 2025-09-28 18:00:00
 * @LastEditTime: 2026-10-14 12:10:33
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// AliOSSStore 实现了 ObjectStore 接口
type AliOSSStore struct {
	bucket *oss.Bucket
	policy *model.StoragePolicy
	logger *zap.Logger
}

// NewAliOSSStore 创建阿里云OSS驱动。
// Server 为 Endpoint，格式如: https://oss-cn-shanghai.aliyuncs.com
func NewAliOSSStore(policy *model.StoragePolicy, logger *zap.Logger) (*AliOSSStore, error) {
	if err := requireCredentials(policy, "阿里云OSS"); err != nil {
		return nil, err
	}
	if policy.Server == "" {
		return nil, fmt.Errorf("%w: 阿里云OSS策略缺少Endpoint配置", constant.ErrPolicySettingsInvalid)
	}

	client, err := oss.New(policy.Server, policy.AccessKey, policy.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云OSS客户端失败: %w", err)
	}
	bucket, err := client.Bucket(policy.BucketName)
	if err != nil {
		return nil, fmt.Errorf("获取阿里云OSS存储桶失败: %w", err)
	}

	logger.Info("阿里云OSS 客户端已创建", zap.String("endpoint", policy.Server), zap.String("bucket", policy.BucketName))
	return &AliOSSStore{bucket: bucket, policy: policy, logger: logger}, nil
}

func (s *AliOSSStore) Name() constant.StoragePolicyType { return constant.PolicyTypeAliOSS }

// Put 使用 x-oss-forbid-overwrite 条件写入
func (s *AliOSSStore) Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error) {
	err := s.bucket.PutObject(key, bytes.NewReader(content),
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ForbidOverWrite(true),
	)
	if err != nil {
		if ossStatusCode(err) == http.StatusConflict {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("上传文件到阿里云OSS失败: %w", err)
	}
	return &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(content)),
	}, nil
}

// Head 获取对象元信息
func (s *AliOSSStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	header, err := s.bucket.GetObjectMeta(key, oss.WithContext(ctx))
	if err != nil {
		if ossStatusCode(err) == http.StatusNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("获取阿里云OSS对象信息失败: %w", err)
	}

	info := &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: header.Get("Content-Type"),
		ETag:        strings.Trim(header.Get("ETag"), `"`),
	}
	if size, parseErr := strconv.ParseInt(header.Get("Content-Length"), 10, 64); parseErr == nil {
		info.Size = size
	}
	return info, nil
}

// Delete 删除对象
func (s *AliOSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		if ossStatusCode(err) == http.StatusNotFound {
			return ErrObjectNotFound
		}
		return fmt.Errorf("删除阿里云OSS对象失败: %w", err)
	}
	return nil
}

// PublicURL 优先使用 CDN 域名，否则使用 bucket.endpoint 形式
func (s *AliOSSStore) PublicURL(key string) string {
	if cdn := s.policy.CDNDomain(); cdn != "" {
		return joinURL(cdn, key)
	}
	u, err := url.Parse(s.policy.Server)
	if err != nil || u.Host == "" {
		return key
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, s.policy.BucketName, u.Host, key)
}

func ossStatusCode(err error) int {
	var serviceErr oss.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.StatusCode
	}
	var serviceErrPtr *oss.ServiceError
	if errors.As(err, &serviceErrPtr) {
		return serviceErrPtr.StatusCode
	}
	return 0
}
