package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"economy_index/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 被调度的任务
type Runner interface {
	Run(ctx context.Context, trigger string) (*models.JobRun, error)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Trigger 每周某天的触发时刻
type Trigger struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// Spec 转为标准五段 cron 表达式
func (t Trigger) Spec() string {
	return fmt.Sprintf("%d %d * * %d", t.Minute, t.Hour, int(t.Weekday))
}

func (t Trigger) String() string {
	return fmt.Sprintf("%s %02d:%02d", t.Weekday, t.Hour, t.Minute)
}

// ParseTriggers 解析 weekday -> "HH:MM" 配置表，按周一到周日排序
func ParseTriggers(table map[string]string) ([]Trigger, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("未配置触发时间")
	}

	triggers := make([]Trigger, 0, len(table))
	for day, at := range table {
		weekday, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			return nil, fmt.Errorf("无法识别的星期: %s", day)
		}
		clock, err := time.Parse("15:04", strings.TrimSpace(at))
		if err != nil {
			return nil, fmt.Errorf("触发时间格式错误 %s=%s: %w", day, at, err)
		}
		triggers = append(triggers, Trigger{Weekday: weekday, Hour: clock.Hour(), Minute: clock.Minute()})
	}

	sort.Slice(triggers, func(i, j int) bool {
		return weekOrder(triggers[i].Weekday) < weekOrder(triggers[j].Weekday)
	})
	return triggers, nil
}

// weekOrder 周一为 0，周日为 6
func weekOrder(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Scheduler 按周触发表调度任务，同一时刻只执行一个
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	triggers []Trigger
	loc      *time.Location
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New 创建调度器并注册每个触发时刻
func New(runner Runner, triggers []Trigger, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	cronLogger := &zapCronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     c,
		runner:   runner,
		triggers: triggers,
		loc:      loc,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, t := range triggers {
		if _, err := c.AddFunc(t.Spec(), s.fire); err != nil {
			cancel()
			return nil, fmt.Errorf("注册定时任务失败 %s: %w", t, err)
		}
		logger.Info("注册定时任务", zap.String("trigger", t.String()), zap.String("cron", t.Spec()))
	}
	return s, nil
}

// fire 一次定时触发；失败只记录，不影响后续触发
func (s *Scheduler) fire() {
	if _, err := s.runner.Run(s.ctx, models.TriggerSchedule); err != nil {
		s.logger.Warn("定时触发未成功", zap.Error(err))
	}
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("调度器已启动", zap.Int("triggers", len(s.triggers)))
}

// Stop 停止调度，等待正在执行的任务结束或 ctx 超时
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("正在停止调度器...")
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("调度器已停止")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("等待任务结束超时: %w", ctx.Err())
	}
}

// Entries 各触发时刻的下一次执行时间，按时间先后
func (s *Scheduler) Entries() []time.Time {
	entries := s.cron.Entries()
	now := time.Now().In(s.loc)
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		if e.Next.IsZero() {
			next = append(next, e.Schedule.Next(now))
			continue
		}
		next = append(next, e.Next)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Before(next[j]) })
	return next
}

// zapCronLogger 把 cron 内部日志接到 zap
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
