// @title Rulebook 后端 API
// @version 1.0
// @description 双语规章手册与修订提案工作流服务。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:5001
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"fmt"
	"os"

	"rulebook_backend/internal/app"
	"rulebook_backend/internal/config"
	"rulebook_backend/internal/repository"
	"rulebook_backend/internal/service"
	"rulebook_backend/pkg/database"
	"rulebook_backend/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:           "rulebook",
		Short:         "Rulebook backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configDir, "config", "c", "configs", "配置文件目录")

	cmd.AddCommand(
		serveCmd(&configDir),
		migrateCmd(&configDir),
		seedCmd(&configDir),
		promoteCmd(&configDir),
	)
	return cmd
}

func serveCmd(configDir *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// migrate even in release mode
			cfg.ForceMigrate = migrate

			application, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer logger.Log.Sync()

			application.ConfigDir = *configDir
			return application.Run()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "启动前执行数据库迁移")
	return cmd
}

func migrateCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "只执行数据库迁移，完成后退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := openDB(*configDir, true)
			if err != nil {
				return err
			}
			logger.Log.Info("database migrated")
			return nil
		},
	}
}

func seedCmd(configDir *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "从 JSON/YAML 文件导入初始课程（仅在课程为空时）",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := service.LoadSeedFile(file)
			if err != nil {
				return err
			}
			cfg, db, err := openDB(*configDir, false)
			if err != nil {
				return err
			}

			lessons := service.NewLessonService(repository.NewLessonRepository(db), repository.NopLessonCache{}, cfg.Workflow)
			count, err := lessons.Seed(context.Background(), seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d lessons\n", count)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "课程文件 (.json/.yaml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func promoteCmd(configDir *string) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "将用户提升为管理员",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB(*configDir, false)
			if err != nil {
				return err
			}
			auth := service.NewAuthService(repository.NewUserRepository(db), repository.NewTxManager(db), cfg)
			user, err := auth.PromoteUser(context.Background(), username)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s is now an Admin.\n", user.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "用户名")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func openDB(configDir string, migrate bool) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, migrate)
	if err != nil {
		logger.Log.Error("Failed to initialize database", zap.Error(err))
		return nil, nil, err
	}
	return cfg, db, nil
}
