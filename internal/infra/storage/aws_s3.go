/*
 * @Description: AWS S3存储驱动实现（使用aws-sdk-go-v2），同样适用于 MinIO、Ceph RGW 等兼容服务
 * @Author: 安知鱼
 * @Date: 2025-09-28 19:00:00
 * @LastEditTime: 2026-10-14 11:48:05
 * @LastEditors: 安知鱼
 */
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// AWSS3Store 实现了 ObjectStore 接口
type AWSS3Store struct {
	client   *s3.Client
	policy   *model.StoragePolicy
	region   string
	endpoint string
	logger   *zap.Logger
}

// resolveS3Region 从策略中解析区域和自定义 endpoint。
// Server 可能是 "us-west-2"、"https://s3.us-west-2.amazonaws.com" 或自定义 endpoint。
func resolveS3Region(policy *model.StoragePolicy) (region, endpoint string) {
	region = policy.Settings.GetString(constant.RegionSettingKey, "")
	if policy.Server == "" {
		if region == "" {
			region = "us-east-1"
		}
		return region, ""
	}
	if !strings.HasPrefix(policy.Server, "http") {
		if region == "" {
			region = policy.Server
		}
		return region, ""
	}

	endpoint = strings.TrimSuffix(policy.Server, "/")
	if region == "" {
		region = "us-east-1"
		if parsed, err := url.Parse(endpoint); err == nil && strings.Contains(parsed.Host, "amazonaws.com") {
			// s3.us-west-2.amazonaws.com
			parts := strings.Split(parsed.Host, ".")
			if len(parts) >= 4 && strings.HasPrefix(parts[0], "s3") {
				region = parts[1]
			}
		}
	}
	return region, endpoint
}

// NewAWSS3Store 创建 S3 驱动
func NewAWSS3Store(ctx context.Context, policy *model.StoragePolicy, logger *zap.Logger) (*AWSS3Store, error) {
	if err := requireCredentials(policy, "AWS S3"); err != nil {
		return nil, err
	}
	region, endpoint := resolveS3Region(policy)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(policy.AccessKey, policy.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("创建AWS S3配置失败: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// 自定义 endpoint 通常需要 path-style
			o.UsePathStyle = true
		}
	})

	logger.Info("AWS S3 客户端已创建", zap.String("region", region), zap.String("bucket", policy.BucketName))
	return &AWSS3Store{
		client:   client,
		policy:   policy,
		region:   region,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

func (s *AWSS3Store) Name() constant.StoragePolicyType { return constant.PolicyTypeS3 }

// Put 以 If-None-Match: * 条件写入对象
func (s *AWSS3Store) Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error) {
	// 显式设置 ContentLength 和 ChecksumSHA256，避免兼容服务出现 XAmzContentSHA256Mismatch
	hash := sha256.Sum256(content)
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.policy.BucketName),
		Key:            aws.String(key),
		Body:           bytes.NewReader(content),
		ContentLength:  aws.Int64(int64(len(content))),
		ContentType:    aws.String(contentType),
		ChecksumSHA256: aws.String(base64.StdEncoding.EncodeToString(hash[:])),
		IfNoneMatch:    aws.String("*"),
	})
	if err != nil {
		if isS3Conflict(err) {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("上传文件到AWS S3失败: %w", err)
	}

	info := &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(content)),
	}
	if out.ETag != nil {
		info.ETag = strings.Trim(*out.ETag, `"`)
	}
	return info, nil
}

// Head 获取对象元信息
func (s *AWSS3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.policy.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("获取AWS S3对象信息失败: %w", err)
	}

	info := &ObjectInfo{Key: key, URL: s.PublicURL(key)}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	if out.ETag != nil {
		info.ETag = strings.Trim(*out.ETag, `"`)
	}
	return info, nil
}

// Delete 删除对象。S3 对不存在的对象同样返回成功。
func (s *AWSS3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.policy.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("删除AWS S3对象失败: %w", err)
	}
	return nil
}

// PublicURL 构建对象的公网访问地址
func (s *AWSS3Store) PublicURL(key string) string {
	if cdn := s.policy.CDNDomain(); cdn != "" {
		return joinURL(cdn, key)
	}
	if s.endpoint != "" {
		return joinURL(s.endpoint+"/"+s.policy.BucketName, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.policy.BucketName, s.region, key)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return s3StatusCode(err) == http.StatusNotFound
}

func isS3Conflict(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	status := s3StatusCode(err)
	return status == http.StatusPreconditionFailed || status == http.StatusConflict
}

func s3StatusCode(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
