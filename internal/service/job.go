package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"economy_index/internal/config"
	"economy_index/internal/models"

	"go.uber.org/zap"
)

// ErrJobRunning 已有任务在执行
var ErrJobRunning = errors.New("任务正在执行")

// Fetcher 行情数据源
type Fetcher interface {
	IndexHistory(ctx context.Context, symbol, period, startDate, endDate string) (*models.Table, error)
}

// Capturer 走势图截图
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// PoolOpener 打开目标库连接池
type PoolOpener func(cfg *config.DatabaseConfig) (*sql.DB, error)

// Job 抓取并入库的定时任务，同一时刻只执行一个
type Job struct {
	fetcher  Fetcher
	loader   *Loader
	openPool PoolOpener
	runs     RunStore
	capturer Capturer
	source   *config.SourceConfig
	database *config.DatabaseConfig
	logger   *zap.Logger
	loc      *time.Location
	running  atomic.Bool
	now      func() time.Time
}

// NewJob 创建任务；capturer 为 nil 时不截图。交易日按 loc 所在时区取当天
func NewJob(fetcher Fetcher, loader *Loader, openPool PoolOpener, runs RunStore, capturer Capturer,
	source *config.SourceConfig, database *config.DatabaseConfig, loc *time.Location, logger *zap.Logger) *Job {
	if loc == nil {
		loc = time.Local
	}
	return &Job{
		fetcher:  fetcher,
		loader:   loader,
		openPool: openPool,
		runs:     runs,
		capturer: capturer,
		source:   source,
		database: database,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// Running 是否有任务在执行
func (j *Job) Running() bool {
	return j.running.Load()
}

// Run 执行一次：抓取当天数据 -> 打开连接池 -> 转换日期 -> 入库 -> 关闭连接池。
// 失败只记录日志并体现在返回的记录中，调用方（定时器）继续下一次触发。
func (j *Job) Run(ctx context.Context, trigger string) (*models.JobRun, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer j.running.Store(false)

	start := j.now().In(j.loc)
	run := &models.JobRun{
		RunID:     fmt.Sprintf("run_%d", start.UnixNano()),
		Trigger:   trigger,
		Symbol:    j.source.Symbol,
		TradeDate: start.Format("20060102"),
		Status:    models.RunStatusRunning,
		StartTime: start,
	}

	j.logger.Info("start job",
		zap.String("run_id", run.RunID),
		zap.String("trigger", trigger),
		zap.String("trade_date", run.TradeDate))

	if err := j.runs.Create(ctx, run); err != nil {
		j.logger.Warn("保存任务记录失败", zap.Error(err))
	}

	err := j.captureHistory(ctx, run)

	// 截图失败不影响任务状态
	if j.capturer != nil {
		if _, capErr := j.capturer.Capture(ctx); capErr != nil {
			j.logger.Error("获取当天走势图失败", zap.Error(capErr))
		}
	}

	end := j.now()
	run.EndTime = &end
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMsg = err.Error()
		j.logger.Error("定时任务执行失败", zap.String("run_id", run.RunID), zap.Error(err))
	} else {
		run.Status = models.RunStatusCompleted
		j.logger.Info("定时任务执行完成",
			zap.String("run_id", run.RunID),
			zap.Int("fetched", run.FetchedCount),
			zap.Int("inserted", run.InsertedCount),
			zap.Int("failed", run.FailedCount),
			zap.Duration("elapsed", end.Sub(start)))
	}

	if updErr := j.runs.Update(ctx, run); updErr != nil {
		j.logger.Warn("更新任务记录失败", zap.Error(updErr))
	}

	return run, err
}

// captureHistory 获取指数当天行情并写入目标表
func (j *Job) captureHistory(ctx context.Context, run *models.JobRun) error {
	table, err := j.fetcher.IndexHistory(ctx, j.source.Symbol, j.source.Period, run.TradeDate, run.TradeDate)
	if err != nil {
		return fmt.Errorf("获取股票历史数据失败: %w", err)
	}
	run.FetchedCount = table.Len()

	pool, err := j.openPool(j.database)
	if err != nil {
		return fmt.Errorf("创建连接池失败: %w", err)
	}
	defer pool.Close()

	if err := table.ConvertColumn(models.ColDate, tradeDateParser(j.loc)); err != nil {
		return fmt.Errorf("日期格式转换失败: %w", err)
	}

	result, err := j.loader.Load(ctx, pool, table, j.database.Table, j.database.Columns)
	if result != nil {
		run.InsertedCount = result.Inserted
		run.FailedCount = result.Failed
	}
	return err
}

// tradeDateParser 日期列 YYYY-MM-DD -> loc 时区的 time.Time
func tradeDateParser(loc *time.Location) func(interface{}) (interface{}, error) {
	return func(v interface{}) (interface{}, error) {
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			return time.ParseInLocation("2006-01-02", d, loc)
		default:
			return nil, fmt.Errorf("无法识别的日期类型 %T", v)
		}
	}
}
