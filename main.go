/*
 * @Description: 命令行入口：serve / gc / token / comments / version
 * @Author: 安知鱼
 * @Date: 2025-06-28 00:21:55
 * @LastEditTime: 2026-10-17 23:26:02
 * @LastEditors: 安知鱼
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/cmd/server"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/auth"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/logging"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/version"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/config"
)

var (
	cfgFile string

	appConfig *config.Config
	logger    *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bdts",
		Short:         "BD Travel Spirit 支持系统：资源上传服务与评论看板工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认 "+config.DefaultConfigPath+"）")

	rootCmd.AddCommand(
		newServeCmd(),
		newGCCmd(),
		newTokenCmd(),
		newCommentsCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// initConfig 加载配置并初始化日志
func initConfig() error {
	var err error
	if cfgFile != "" {
		appConfig, err = config.NewConfigFromFile(cfgFile)
	} else {
		appConfig, err = config.NewConfig()
	}
	if err != nil {
		return err
	}

	logger, err = logging.NewLogger(appConfig.GetString(config.KeyLogLevel), appConfig.GetString(config.KeyLogFile))
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动资源上传 HTTP 服务与后台任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, cleanup, err := server.NewApp(appConfig, logger)
	if err != nil {
		return fmt.Errorf("应用初始化失败: %w", err)
	}
	defer cleanup()
	defer app.Stop()

	app.PrintBanner()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(signalCtx)
}

func newGCCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "立即执行一次孤儿校验和回收",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := server.NewApp(appConfig, logger)
			if err != nil {
				return fmt.Errorf("应用初始化失败: %w", err)
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			report, err := app.GCJob().RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "扫描 %d 条，回收 %d 条，复活 %d 条，删除失败 %d 个对象\n",
				report.Scanned, report.Purged, report.Revived, len(report.FailedObjects))
			for _, key := range report.FailedObjects {
				fmt.Fprintln(cmd.OutOrStdout(), "  未删除:", key)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "单次回收的超时时间")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发访问资源接口的令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := appConfig.GetString(config.KeyJWTSecret)
			if secret == "" {
				return fmt.Errorf("未配置 %s，无法签发可被服务端验证的令牌", config.KeyJWTSecret)
			}
			if role != auth.RoleAdmin && role != auth.RoleSupport {
				return fmt.Errorf("未知角色 %q，可选值: %s, %s", role, auth.RoleAdmin, auth.RoleSupport)
			}
			token, err := auth.GenerateToken(subject, role, ttl, []byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "support-cli", "令牌主体")
	cmd.Flags().StringVar(&role, "role", auth.RoleSupport, "角色 (admin|support)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "有效期")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		// 不需要加载配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionString())
		},
	}
}
