/*
 * @Description: 本机磁盘存储驱动实现
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-14 13:22:16
 * @LastEditors: 安知鱼
 */
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/domain/model"
)

// LocalStore 实现了 ObjectStore 接口，对象以文件形式保存在 root 目录下。
type LocalStore struct {
	root   string
	policy *model.StoragePolicy
	logger *zap.Logger
}

// NewLocalStore 创建本地驱动。Server 字段为存储根目录，为空时使用默认目录。
func NewLocalStore(policy *model.StoragePolicy, logger *zap.Logger) (*LocalStore, error) {
	root := policy.Server
	if root == "" {
		root = constant.DefaultLocalAssetPath
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("无法创建本地存储目录 '%s': %w", root, err)
	}
	return &LocalStore{root: root, policy: policy, logger: logger}, nil
}

// Root 返回存储根目录，供静态路由挂载
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Name() constant.StoragePolicyType { return constant.PolicyTypeLocal }

func (s *LocalStore) fullPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("非法的对象键: %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put 先写入同目录下的临时文件，再通过硬链接发布。
// os.Link 在目标已存在时失败，从而得到与云端一致的“禁止覆盖”语义。
func (s *LocalStore) Put(ctx context.Context, key string, content []byte, contentType string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	finalPath, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	finalDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(finalDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("无法创建子目录 '%s': %w", finalDir, err)
	}

	tempFile, err := os.CreateTemp(finalDir, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("无法在 '%s' 目录创建临时文件: %w", finalDir, err)
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName)

	if _, err := tempFile.Write(content); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("同步文件到磁盘失败: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("关闭临时文件失败: %w", err)
	}

	if err := os.Link(tempName, finalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("发布文件到 '%s' 失败: %w", finalPath, err)
	}

	return &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        int64(len(content)),
	}, nil
}

// Head 读取文件信息，内容类型通过文件头嗅探
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}
	if stat.IsDir() {
		return nil, ErrObjectNotFound
	}

	contentType := "application/octet-stream"
	if mtype, detectErr := mimetype.DetectFile(fullPath); detectErr == nil {
		contentType = mtype.String()
	}
	return &ObjectInfo{
		Key:         key,
		URL:         s.PublicURL(key),
		ContentType: contentType,
		Size:        stat.Size(),
	}, nil
}

// Delete 删除文件，并尝试清理空的父目录
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("删除文件 '%s' 失败: %w", fullPath, err)
	}

	// 非空目录删除会失败，忽略即可
	if dir := filepath.Dir(fullPath); dir != filepath.Clean(s.root) {
		_ = os.Remove(dir)
	}
	return nil
}

// PublicURL 本地文件通过静态路由访问
func (s *LocalStore) PublicURL(key string) string {
	base := s.policy.CDNDomain()
	if base == "" {
		base = constant.LocalAssetRoute
	}
	return joinURL(base, strings.TrimPrefix(key, "/"))
}
