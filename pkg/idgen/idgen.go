/*
 * @Description: ID 生成和解码服务
 * @Author: 安知鱼
 * @Date: 2025-06-17 20:38:15
 * @LastEditTime: 2026-10-15 17:52:10
 * @LastEditors: 安知鱼
 */
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"

	"github.com/sqids/sqids-go"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
)

// DefaultAlphabet 是默认的字母表
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// EntityType 定义了不同实体在生成公共 ID 时的类型标识。
const (
	EntityTypeAsset    uint64 = 1 // 逻辑资源的类型标识
	EntityTypeChecksum uint64 = 2 // 校验和记录的类型标识
)

// Encoder 负责数据库 ID 与公共 ID 之间的转换
type Encoder struct {
	sqids *sqids.Sqids
}

// GenerateRandomSeed 生成一个随机的 16 字节种子（返回 32 字符的十六进制字符串）
func GenerateRandomSeed() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("生成随机种子失败: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// shuffleAlphabet 使用种子确定性地打乱字母表
func shuffleAlphabet(seed string) string {
	var seedInt int64
	for i, c := range seed {
		seedInt += int64(c) * int64(i+1)
	}
	r := mrand.New(mrand.NewSource(seedInt))

	alphabet := []rune(DefaultAlphabet)
	r.Shuffle(len(alphabet), func(i, j int) {
		alphabet[i], alphabet[j] = alphabet[j], alphabet[i]
	})
	return string(alphabet)
}

// NewEncoder 使用种子创建编码器。
// 如果 seed 为空字符串，则使用默认字母表
func NewEncoder(seed string) (*Encoder, error) {
	alphabet := DefaultAlphabet
	if seed != "" {
		alphabet = shuffleAlphabet(seed)
	}
	s, err := sqids.New(sqids.Options{
		MinLength: 6,
		Alphabet:  alphabet,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Sqids 编码器失败: %w", err)
	}
	return &Encoder{sqids: s}, nil
}

// Encode 生成公共 ID
func (e *Encoder) Encode(dbID uint, entityType uint64) (string, error) {
	id, err := e.sqids.Encode([]uint64{uint64(dbID), entityType})
	if err != nil {
		return "", fmt.Errorf("编码公共ID失败: %w", err)
	}
	return id, nil
}

// Decode 解码公共 ID 并校验实体类型。
// 非规范编码（解码后重新编码不一致）同样视为无效。
func (e *Encoder) Decode(publicID string, entityType uint64) (uint, error) {
	numbers := e.sqids.Decode(publicID)
	if len(numbers) != 2 || numbers[1] != entityType {
		return 0, constant.ErrInvalidPublicID
	}
	canonical, err := e.sqids.Encode(numbers)
	if err != nil || canonical != publicID {
		return 0, constant.ErrInvalidPublicID
	}
	return uint(numbers[0]), nil
}
