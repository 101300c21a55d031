/*
 * @Description: 腾讯云COS存储驱动实现
 * @Author: 安知鱼
 * @Date: 2025-09-28 18:00:00
 * @LastEditTime: 2026-10-14 12:31:09
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
	"strings"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// TencentCOSStore 实现了 ObjectStore 接口
type TencentCOSStore struct {
	client *cos.Client
	policy *model.StoragePolicy
	logger *zap.Logger
}

// NewTencentCOSStore 创建腾讯云COS驱动，Server 为存储桶访问域名
func NewTencentCOSStore(policy *model.StoragePolicy, logger *zap.Logger) (*TencentCOSStore, error) {
	if err := requireCredentials(policy, "腾讯云COS"); err != nil {
		return nil, err
	}
	if policy.Server == "" {
		return nil, fmt.Errorf("%w: 腾讯云COS策略缺少访问域名配置", constant.ErrPolicySettingsInvalid)
	}
	u, err := url.Parse(policy.Server)
	if err != nil {
		return nil, fmt.Errorf("解析存储桶URL失败: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: 100 * time.Second,
		Transport: &cos.AuthorizationTransport{
			SecretID:  policy.AccessKey,
			SecretKey: policy.SecretKey,
		},
	})

	logger.Info("腾讯云COS 客户端已创建", zap.String("server", policy.Server))
	return &TencentCOSStore{client: client, policy: policy, logger: logger}, nil
}

func (s *TencentCOSStore) Name() constant.StoragePolicyType { return constant.PolicyTypeTencentCOS }

// Put 使用 x-cos-forbid-overwrite 条件写入
func (s *TencentCOSStore) Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error) {
	header := http.Header{}
	header.Set("x-cos-forbid-overwrite", "true")

	resp, err := s.client.Object.Put(ctx, key, bytes.NewReader(content), &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: int64(len(content)),
			XOptionHeader: &header,
		},
	})
	if err != nil {
		if cosStatusCode(err) == http.StatusConflict {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("上传文件到腾讯云COS失败: %w", err)
	}

	info := &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(content)),
	}
	if resp != nil && resp.Response != nil {
		info.ETag = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
	return info, nil
}

// Head 获取对象元信息
func (s *TencentCOSStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := s.client.Object.Head(ctx, key, nil)
	if err != nil {
		if isCOSNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("获取腾讯云COS对象信息失败: %w", err)
	}

	info := &ObjectInfo{Key: key, URL: s.PublicURL(key)}
	if resp != nil && resp.Response != nil {
		info.ContentType = resp.Header.Get("Content-Type")
		info.ETag = strings.Trim(resp.Header.Get("ETag"), `"`)
		info.Size = resp.ContentLength
	}
	return info, nil
}

// Delete 删除对象
func (s *TencentCOSStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Object.Delete(ctx, key); err != nil {
		if isCOSNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("删除腾讯云COS对象失败: %w", err)
	}
	return nil
}

// PublicURL 优先使用 CDN 域名，否则使用存储桶访问域名
func (s *TencentCOSStore) PublicURL(key string) string {
	if cdn := s.policy.CDNDomain(); cdn != "" {
		return joinURL(cdn, key)
	}
	return joinURL(s.policy.Server, key)
}

func isCOSNotFound(err error) bool {
	var cosErr *cos.ErrorResponse
	if !errors.As(err, &cosErr) {
		return false
	}
	if cosErr.Code == "NoSuchKey" {
		return true
	}
	return cosErr.Response != nil && cosErr.Response.StatusCode == http.StatusNotFound
}

func cosStatusCode(err error) int {
	var cosErr *cos.ErrorResponse
	if errors.As(err, &cosErr) && cosErr.Response != nil {
		return cosErr.Response.StatusCode
	}
	return 0
}
