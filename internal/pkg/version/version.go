/*
 * @Description: 构建版本信息
 * @Author: 安知鱼
 * @Date: 2025-08-20 10:21:05
 * @LastEditTime: 2026-10-17 11:30:48
 * @LastEditors: 安知鱼
 */
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// 这些变量将在构建时通过 ldflags 注入
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo 包含构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// GetVersion 返回应用版本号，未注入时回退到模块版本
func GetVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown (no build info)"
	}
	if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		return buildInfo.Main.Version
	}
	return "dev"
}

func buildSetting(key string) (string, bool) {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range buildInfo.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}

// GetCommit 返回短 commit hash
func GetCommit() string {
	if Commit != "unknown" && Commit != "" {
		return Commit
	}
	if rev, ok := buildSetting("vcs.revision"); ok {
		if len(rev) > 7 {
			return rev[:7]
		}
		return rev
	}
	return "unknown"
}

// GetBuildDate 返回构建时间
func GetBuildDate() string {
	if Date != "unknown" && Date != "" {
		return Date
	}
	if value, ok := buildSetting("vcs.time"); ok {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
		return value
	}
	return "unknown"
}

// GetBuildInfo 返回详细的构建信息
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   GetVersion(),
		Commit:    GetCommit(),
		Date:      GetBuildDate(),
		GoVersion: GoVersion,
	}
}

// GetVersionString 返回完整的版本字符串
func GetVersionString() string {
	info := GetBuildInfo()
	parts := []string{info.Version}
	if info.Commit != "unknown" {
		parts = append(parts, fmt.Sprintf("commit %s", info.Commit))
	}
	if info.Date != "unknown" {
		parts = append(parts, fmt.Sprintf("built at %s", info.Date))
	}
	return strings.Join(parts, ", ")
}
