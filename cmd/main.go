package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/3Eeeecho/go-dropshare/cmd/server"
	"github.com/3Eeeecho/go-dropshare/internal/config"
	"github.com/3Eeeecho/go-dropshare/internal/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

func main() {
	// .env 只在本地开发时存在
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "dropshare",
		Short:         "Ephemeral file sharing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd(), sweepCmd(), rehashCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("命令执行失败", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// bootstrap 加载配置、初始化日志并构建核心组件
func bootstrap(ctx context.Context) (*config.Config, *server.Components, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger.InitLogger(cfg.Log)

	components, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, components, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, components, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer components.Close()
			defer logger.Sync() // 确保在应用退出时刷新所有缓冲的日志条目

			logger.Info("启动文件分享服务...")

			// 创建一个通道用于接收停止信号
			stopChan := make(chan os.Signal, 1)
			signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

			if err := server.NewServer(cfg, components).Run(cmd.Context(), stopChan); err != nil {
				return err
			}
			logger.Info("文件分享服务已退出。")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, components, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer components.Close()
			defer logger.Sync()

			res := components.Coordinator.SweepOnce(cmd.Context())
			cmd.Printf("scanned=%d deleted=%d errors=%d duration=%s\n", res.Scanned, res.Deleted, res.Errors, res.Duration)
			return nil
		},
	}
}

func rehashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rehash",
		Short: "Hash every remaining legacy plaintext password and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, components, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer components.Close()
			defer logger.Sync()

			res, err := components.Coordinator.MigrateLegacyPasswords(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("scanned=%d migrated=%d failed=%d\n", res.Scanned, res.Migrated, res.Failed)
			return nil
		},
	}
}
