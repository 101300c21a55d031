/*
 * @Description: 结构化日志（zap），可选按大小轮转的文件输出
 * @Author: 安知鱼
 * @Date: 2026-10-13 11:32:09
 * @LastEditTime: 2026-10-13 11:32:09
 * @LastEditors: 安知鱼
 */
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel 将配置中的级别字符串转换为 zap 级别，未知值按 info 处理
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger 创建应用日志记录器。
// filePath 为空时只输出到标准输出，否则同时写入轮转文件。
func NewLogger(level, filePath string) (*zap.Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(ParseLevel(level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), atomicLevel),
	}

	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, atomicLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
