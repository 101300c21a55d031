/*
 * @Description: 统一配置管理 (手动加载 ini + 环境变量覆盖)
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-13 11:20:44
 * @LastEditors: 安知鱼
 */
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"github.com/spf13/viper"
)

// DefaultConfigPath 是默认的配置文件路径
const DefaultConfigPath = "data/conf.ini"

// EnvPrefix 是环境变量覆盖的前缀，例如 BDTS_DATABASE_HOST
const EnvPrefix = "BDTS"

const (
	KeyServerPort      = "System.Port"
	KeyServerDebug     = "System.Debug"
	KeyJWTSecret       = "System.JWTSecret"
	KeyIDSeed          = "System.IDSeed"
	KeyLogLevel        = "Log.Level"
	KeyLogFile         = "Log.File"
	KeyDBType          = "Database.Type"
	KeyDBHost          = "Database.Host"
	KeyDBPort          = "Database.Port"
	KeyDBUser          = "Database.User"
	KeyDBPassword      = "Database.Password"
	KeyDBName          = "Database.Name"
	KeyRedisAddr       = "Redis.Addr"
	KeyRedisPassword   = "Redis.Password"
	KeyRedisDB         = "Redis.DB"
	KeyStorageType     = "Storage.Type"
	KeyStorageServer   = "Storage.Server"
	KeyStorageBucket   = "Storage.Bucket"
	KeyStorageAK       = "Storage.AccessKey"
	KeyStorageSK       = "Storage.SecretKey"
	KeyStorageRegion   = "Storage.Region"
	KeyStorageBasePath = "Storage.BasePath"
	KeyStorageCDN      = "Storage.CDNDomain"
	KeyUploadConc      = "Upload.Concurrency"
	KeyUploadRetries   = "Upload.MaxRetries"
	KeyUploadBackoffMS = "Upload.BackoffBaseMS"
	KeyUploadMaxSizeMB = "Upload.MaxSizeMB"
	KeyDeleteBatchMS   = "Upload.DeleteBatchDelayMS"
	KeyCacheTTLSeconds = "Cache.TTLSeconds"
	KeyChecksumGCSpec  = "Task.ChecksumGCSpec"
	KeyClientBaseURL   = "Client.BaseURL"
	KeyClientBasePath  = "Client.BasePath"
	KeyClientToken     = "Client.Token"
)

// 定义所有已知的配置键，用于环境变量覆盖
var allKeys = []string{
	KeyServerPort, KeyServerDebug, KeyJWTSecret, KeyIDSeed,
	KeyLogLevel, KeyLogFile,
	KeyDBType, KeyDBHost, KeyDBPort, KeyDBUser, KeyDBPassword, KeyDBName,
	KeyRedisAddr, KeyRedisPassword, KeyRedisDB,
	KeyStorageType, KeyStorageServer, KeyStorageBucket, KeyStorageAK, KeyStorageSK,
	KeyStorageRegion, KeyStorageBasePath, KeyStorageCDN,
	KeyUploadConc, KeyUploadRetries, KeyUploadBackoffMS, KeyUploadMaxSizeMB, KeyDeleteBatchMS,
	KeyCacheTTLSeconds, KeyChecksumGCSpec,
	KeyClientBaseURL, KeyClientBasePath, KeyClientToken,
}

// defaults 是在配置文件和环境变量都缺失时使用的内部默认值
var defaults = map[string]interface{}{
	KeyServerPort:      8091,
	KeyServerDebug:     false,
	KeyLogLevel:        "info",
	KeyDBType:          "sqlite",
	KeyDBName:          "support_system.db",
	KeyRedisDB:         0,
	KeyStorageType:     "local",
	KeyStorageBasePath: "assets",
	KeyUploadConc:      2,
	KeyUploadRetries:   3,
	KeyUploadBackoffMS: 500,
	KeyUploadMaxSizeMB: 50,
	KeyDeleteBatchMS:   200,
	KeyCacheTTLSeconds: 60,
	KeyChecksumGCSpec:  "0 */10 * * * *",
	KeyClientBasePath:  "/api/v1/article-comments",
}

type Config struct {
	vp *viper.Viper
}

// NewConfig 从默认路径加载配置
func NewConfig() (*Config, error) {
	return NewConfigFromFile(DefaultConfigPath)
}

// NewConfigFromFile 手动加载配置，确保可靠性
func NewConfigFromFile(filePath string) (*Config, error) {
	vp := viper.New()
	applyDefaults(vp)

	// --- 步骤 1: 使用 go-ini 从文件加载配置 ---
	iniCfg, err := ini.Load(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("提示: 未找到 %s，将创建默认配置文件。", filePath)
			if err := createDefaultConfigFile(filePath); err != nil {
				log.Printf("警告: 创建默认配置文件失败: %v，将仅依赖环境变量或内部默认值。", err)
			} else {
				log.Printf("✅ 已创建默认配置文件: %s", filePath)
				iniCfg, err = ini.Load(filePath)
				if err != nil {
					log.Printf("警告: 重新加载配置文件失败: %v", err)
				}
			}
		} else {
			// 如果文件存在但格式错误
			return nil, fmt.Errorf("错误: 解析配置文件 '%s' 失败: %w", filePath, err)
		}
	}

	if iniCfg != nil {
		for _, section := range iniCfg.Sections() {
			for _, key := range section.Keys() {
				viperKey := fmt.Sprintf("%s.%s", section.Name(), key.Name())
				// 特殊处理默认分区 "DEFAULT"
				if section.Name() == ini.DefaultSection {
					viperKey = key.Name()
				}
				// 空值不覆盖内部默认值
				if strings.TrimSpace(key.Value()) == "" {
					continue
				}
				vp.Set(viperKey, key.Value())
			}
		}
		log.Printf("从 %s 文件加载了配置。", filePath)
	}

	// --- 步骤 2: 手动检查并覆盖环境变量 ---
	applyEnv(vp)

	log.Println("✅ 配置加载器初始化完成。")
	return &Config{vp: vp}, nil
}

// NewConfigFromViper 直接包装一个 viper 实例，缺失的键使用内部默认值。
// 主要用于测试和命令行工具。
func NewConfigFromViper(vp *viper.Viper) *Config {
	applyDefaults(vp)
	return &Config{vp: vp}
}

func applyDefaults(vp *viper.Viper) {
	for key, value := range defaults {
		vp.SetDefault(key, value)
	}
}

func applyEnv(vp *viper.Viper) {
	envReplacer := strings.NewReplacer(".", "_")
	for _, key := range allKeys {
		envVarName := fmt.Sprintf("%s_%s", EnvPrefix, envReplacer.Replace(strings.ToUpper(key)))
		if value, found := os.LookupEnv(envVarName); found {
			vp.Set(key, value)
			log.Printf("发现环境变量: %s, 已覆盖配置 '%s'。", envVarName, key)
		}
	}
}

func (c *Config) GetString(key string) string {
	return c.vp.GetString(key)
}

func (c *Config) GetInt(key string) int {
	return c.vp.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.vp.GetBool(key)
}

// Set 覆盖单个配置项，供命令行参数使用
func (c *Config) Set(key string, value interface{}) {
	c.vp.Set(key, value)
}

// createDefaultConfigFile 创建默认的配置文件
func createDefaultConfigFile(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 默认配置内容（使用 SQLite 与本地存储）
	defaultConfig := `[System]
Port = 8091
Debug = false
JWTSecret =
IDSeed =

[Log]
Level = info
# 留空则只输出到标准输出
File =

[Database]
Type = sqlite
Name = support_system.db

# Redis 配置（可选）
# 如果不配置或留空 Addr，系统将自动使用内存缓存
[Redis]
Addr =
Password =
DB = 0

# 存储类型: local / aws_s3 / aliyun_oss / tencent_cos / qiniu_kodo
[Storage]
Type = local
Server =
Bucket =
AccessKey =
SecretKey =
Region =
BasePath = assets
CDNDomain =

[Upload]
Concurrency = 2
MaxRetries = 3
BackoffBaseMS = 500
MaxSizeMB = 50
DeleteBatchDelayMS = 200

[Cache]
TTLSeconds = 60

[Task]
ChecksumGCSpec = 0 */10 * * * *

[Client]
BaseURL =
BasePath = /api/v1/article-comments
Token =
`

	if err := os.WriteFile(filePath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}
