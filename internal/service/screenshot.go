package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"economy_index/internal/config"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChartCapturer 无头浏览器截取走势图
type ChartCapturer struct {
	cfg    *config.ScreenshotConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewChartCapturer 创建截图服务
func NewChartCapturer(cfg *config.ScreenshotConfig, logger *zap.Logger) *ChartCapturer {
	return &ChartCapturer{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Capture 打开页面，等待渲染后截取 class 为 ClassName 的元素，返回文件路径
func (c *ChartCapturer) Capture(ctx context.Context) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1920, 1080),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}

	// cancel 会关闭浏览器进程
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
	)
	defer cancelBrowser()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(c.cfg.URL),
		chromedp.Sleep(time.Duration(c.cfg.Wait)*time.Second),
		chromedp.Screenshot("."+c.cfg.ClassName, &buf, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		c.logger.Error("截图失败", zap.String("url", c.cfg.URL), zap.Error(err))
		return "", fmt.Errorf("截图失败: %w", err)
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("创建截图目录失败: %w", err)
	}
	path := filepath.Join(c.cfg.OutputDir, screenshotName(c.now()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		c.logger.Error("保存截图失败", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("保存截图失败: %w", err)
	}

	c.logger.Info("截图保存成功", zap.String("path", path))
	return path, nil
}

// screenshotName 精确到分钟的时间戳文件名
func screenshotName(t time.Time) string {
	return t.Format("200601021504") + ".png"
}
