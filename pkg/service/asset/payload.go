/*
 * @Description: 上传内容解码与校验
 * @Author: 安知鱼
 * @Date: 2026-10-15 18:10:37
 * @LastEditTime: 2026-10-16 09:41:25
 * @LastEditors: 安知鱼
 */
package asset

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/constant"
)

// Payload 是一次上传的原始输入，Data 为 data URL（data:<mime>;base64,...）或纯 base64
type Payload struct {
	Data     string `json:"data"`
	FileName string `json:"file_name"`
}

type decodedPayload struct {
	content     []byte
	contentType string
	fileName    string
}

// 需要通过解码图片头来确认完整性的类型
var rasterTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// splitDataURL 拆分 data URL，返回 base64 部分
func splitDataURL(data string) (string, error) {
	header, body, ok := strings.Cut(data, ",")
	if !ok {
		return "", fmt.Errorf("%w: data URL 缺少逗号分隔符", constant.ErrInvalidPayload)
	}
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return "", fmt.Errorf("%w: 仅支持 base64 编码的 data URL", constant.ErrInvalidPayload)
	}
	return body, nil
}

func decodeBase64(data string) ([]byte, error) {
	// 兼容被换行切分的 base64
	data = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, data)

	for _, enc := range base64Encodings {
		if content, err := enc.DecodeString(data); err == nil {
			return content, nil
		}
	}
	return nil, fmt.Errorf("%w: 无法解析 base64 内容", constant.ErrInvalidPayload)
}

// decodePayload 解码并校验上传内容
func decodePayload(p Payload, maxSize int64) (*decodedPayload, error) {
	data := strings.TrimSpace(p.Data)
	if data == "" {
		return nil, fmt.Errorf("%w: 内容为空", constant.ErrInvalidPayload)
	}
	if strings.HasPrefix(data, "data:") {
		body, err := splitDataURL(data)
		if err != nil {
			return nil, err
		}
		data = body
	}

	// 解码前按编码长度粗略判断，避免为超大内容分配内存
	if maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(data))) > maxSize+3 {
		return nil, fmt.Errorf("%w: 超过 %d 字节", constant.ErrPayloadTooLarge, maxSize)
	}

	content, err := decodeBase64(data)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: 内容为空", constant.ErrInvalidPayload)
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, fmt.Errorf("%w: 超过 %d 字节", constant.ErrPayloadTooLarge, maxSize)
	}

	mtype := mimetype.Detect(content)
	contentType := mtype.String()
	baseType, _, _ := strings.Cut(contentType, ";")
	if rasterTypes[baseType] {
		if _, _, err := image.DecodeConfig(bytes.NewReader(content)); err != nil {
			return nil, fmt.Errorf("%w: 图片已损坏: %v", constant.ErrInvalidPayload, err)
		}
	}

	return &decodedPayload{
		content:     content,
		contentType: contentType,
		fileName:    normalizeFileName(p.FileName, mtype.Extension()),
	}, nil
}

// normalizeFileName 去掉路径部分，缺省时按内容类型补全扩展名
func normalizeFileName(name, ext string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		name = "asset"
	}
	if path.Ext(name) == "" {
		name += ext
	}
	return name
}
