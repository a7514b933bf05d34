package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"economy_index/internal/api"
	"economy_index/internal/config"
	"economy_index/internal/database"
	"economy_index/internal/models"
	"economy_index/internal/scheduler"
	"economy_index/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	configPath := os.Getenv(config.EnvPrefix + "_CONFIG")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config error: %v", err)
	}
	// 初始化日志
	logger, closeLog, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer closeLog()
	logger.Info("配置加载成功", zap.String("path", configPath))

	// 任务记录：配置了记录库时落库，否则保存在内存
	var runs service.RunStore
	if cfg.History.Enabled {
		historyDB, err := database.OpenHistory(&cfg.History)
		if err != nil {
			logger.Fatal("初始化记录库失败", zap.Error(err))
		}
		defer func(db *gorm.DB) {
			if err := database.CloseHistory(db); err != nil {
				logger.Warn("关闭记录库失败", zap.Error(err))
			}
		}(historyDB)
		runs = service.NewGormRunStore(historyDB)
	} else {
		runs = service.NewMemoryRunStore(cfg.History.Capacity)
	}

	// 创建东方财富客户端
	fetcher := service.NewEastmoneyClient(&cfg.Source, logger)
	logger.Info("行情客户端初始化成功", zap.String("symbol", cfg.Source.Symbol))

	loader, err := service.NewLoader(cfg.Database.Type, cfg.Database.CommitEvery, logger)
	if err != nil {
		logger.Fatal("创建入库服务失败", zap.Error(err))
	}

	var capturer service.Capturer
	if cfg.Screenshot.Enabled {
		capturer = service.NewChartCapturer(&cfg.Screenshot, logger)
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Fatal("加载时区失败", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
	}

	// 交易日与触发时刻使用同一时区
	job := service.NewJob(fetcher, loader, database.OpenPool, runs, capturer, &cfg.Source, &cfg.Database, loc, logger)

	triggers, err := scheduler.ParseTriggers(cfg.Scheduler.Triggers)
	if err != nil {
		logger.Fatal("解析触发时间失败", zap.Error(err))
	}
	sched, err := scheduler.New(job, triggers, loc, logger)
	if err != nil {
		logger.Fatal("创建调度器失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	sched.Start()
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sched.Stop(shutdownCtx)
	})

	if cfg.Scheduler.RunOnStart {
		g.Go(func() error {
			if _, err := job.Run(gctx, models.TriggerStartup); err != nil {
				logger.Warn("启动时执行未成功", zap.Error(err))
			}
			return nil
		})
	}

	if cfg.Server.Enabled {
		// 设置 Gin 模式
		gin.SetMode(cfg.Server.Mode)
		r := gin.Default()

		handler := api.NewHandler(job, runs, sched, capturer, logger)
		handler.RegisterRoutes(r)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: r,
		}

		g.Go(func() error {
			logger.Info("服务器启动", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("服务器启动失败: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("正在关闭服务器...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("服务器强制关闭: %w", err)
			}
			logger.Info("服务器已关闭")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("退出时出现错误", zap.Error(err))
	}
	logger.Info("程序已退出")
}

// initLogger 初始化日志：标准输出按配置级别，错误单独追加到日志文件。
// 返回的 closeLog 刷新缓冲并关闭日志文件
func initLogger(cfg config.LogConfig) (logger *zap.Logger, closeLog func(), err error) {
	// 设置日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zap.DebugLevel
	case "info":
		level = zap.InfoLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	default:
		level = zap.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stdout), level),
	}

	var logFile *os.File
	if cfg.File != "" {
		// 创建日志目录
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, err
		}
		logFile, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(logFile), zap.ErrorLevel))
	}

	logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeLog = func() {
		// stdout 不支持 fsync 时 Sync 会报错，忽略
		_ = logger.Sync()
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	return logger, closeLog, nil
}
