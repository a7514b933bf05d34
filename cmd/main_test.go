package main

import (
	"os"
	"path/filepath"
	"testing"

	"economy_index/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitLogger_ErrorFile 只有错误级别写入日志文件，关闭后文件句柄释放
func TestInitLogger_ErrorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	logger, closeLog, err := initLogger(config.LogConfig{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Info("配置加载成功")
	logger.Error("数据库插入失败")
	closeLog()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "数据库插入失败")
	assert.NotContains(t, string(content), "配置加载成功")

	// 追加写入，不覆盖已有内容
	logger, closeLog, err = initLogger(config.LogConfig{Level: "info", File: path})
	require.NoError(t, err)
	logger.Error("创建连接池失败")
	closeLog()

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "数据库插入失败")
	assert.Contains(t, string(content), "创建连接池失败")
}

func TestInitLogger_NoFile(t *testing.T) {
	logger, closeLog, err := initLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	closeLog()
}
