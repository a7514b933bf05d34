package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"economy_index/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Database   DatabaseConfig   `mapstructure:"database"`
	History    HistoryConfig    `mapstructure:"history"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// SourceConfig 东方财富行情接口配置
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Symbol  string `mapstructure:"symbol"`
	Period  string `mapstructure:"period"`  // daily/weekly/monthly
	Markets []int  `mapstructure:"markets"` // secid 市场前缀，按顺序尝试
	Timeout int    `mapstructure:"timeout"`
	Retry   int    `mapstructure:"retry"`
}

// DatabaseConfig 目标库配置
type DatabaseConfig struct {
	Type          string                 `mapstructure:"type"` // oracle/postgres/mysql/sqlite
	Host          string                 `mapstructure:"host"`
	Port          int                    `mapstructure:"port"`
	User          string                 `mapstructure:"user"`
	Password      string                 `mapstructure:"password"`
	ServiceName   string                 `mapstructure:"service_name"` // oracle
	DBName        string                 `mapstructure:"dbname"`       // postgres/mysql
	Path          string                 `mapstructure:"path"`         // sqlite
	LibDir        string                 `mapstructure:"lib_dir"`      // oracle instant client 目录
	PoolMin       int                    `mapstructure:"pool_min"`
	PoolMax       int                    `mapstructure:"pool_max"`
	PoolIncrement int                    `mapstructure:"pool_increment"`
	Table         string                 `mapstructure:"table"`
	CommitEvery   int                    `mapstructure:"commit_every"`
	Columns       []models.ColumnMapping `mapstructure:"columns"`
}

// HistoryConfig 任务记录库配置（gorm）
type HistoryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Type            string `mapstructure:"type"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	Capacity        int    `mapstructure:"capacity"` // 未启用数据库时内存保留条数
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Timezone   string            `mapstructure:"timezone"`
	Triggers   map[string]string `mapstructure:"triggers"` // 星期 -> HH:MM
	RunOnStart bool              `mapstructure:"run_on_start"`
}

// ScreenshotConfig 走势图截图配置
type ScreenshotConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	ClassName string `mapstructure:"class_name"`
	Wait      int    `mapstructure:"wait"` // 秒
	OutputDir string `mapstructure:"output_dir"`
	ExecPath  string `mapstructure:"exec_path"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // 错误日志文件，只追加
}

// EnvPrefix 环境变量前缀，如 ECONOMY_DATABASE_PASSWORD
const EnvPrefix = "ECONOMY"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*(\.[A-Za-z_][A-Za-z0-9_$#]*)?$`)

// LoadConfig 加载配置文件，环境变量优先于文件
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://push2his.eastmoney.com/api/qt/stock/kline/get")
	v.SetDefault("source.symbol", "932056")
	v.SetDefault("source.period", "daily")
	v.SetDefault("source.markets", []int{1, 0, 2, 47})
	v.SetDefault("source.timeout", 30)
	v.SetDefault("source.retry", 0)

	v.SetDefault("database.type", "oracle")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 1521)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.service_name", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.path", "")
	v.SetDefault("database.lib_dir", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 5)
	v.SetDefault("database.pool_increment", 1)
	v.SetDefault("database.table", "HY.TB_HY_ECONOMY")
	v.SetDefault("database.commit_every", 1000)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.type", "postgres")
	v.SetDefault("history.host", "")
	v.SetDefault("history.port", 5432)
	v.SetDefault("history.user", "")
	v.SetDefault("history.password", "")
	v.SetDefault("history.dbname", "")
	v.SetDefault("history.max_open_conns", 5)
	v.SetDefault("history.max_idle_conns", 2)
	v.SetDefault("history.conn_max_lifetime", 3600)
	v.SetDefault("history.capacity", 100)

	v.SetDefault("scheduler.timezone", "Asia/Shanghai")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("screenshot.enabled", false)
	v.SetDefault("screenshot.url", "https://so.eastmoney.com/web/s?keyword=932056")
	v.SetDefault("screenshot.class_name", "charts_c")
	v.SetDefault("screenshot.wait", 5)
	v.SetDefault("screenshot.output_dir", ".")
	v.SetDefault("screenshot.exec_path", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./logs/app.log")
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	switch config.Database.Type {
	case "oracle", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("数据库类型必须是 oracle、postgres、mysql 或 sqlite: %q", config.Database.Type)
	}

	if config.Database.Type == "sqlite" && config.Database.Path == "" {
		return fmt.Errorf("sqlite 需要配置 database.path")
	}
	if config.Database.Type != "sqlite" && config.Database.Host == "" {
		return fmt.Errorf("请配置 database.host")
	}

	if config.Source.Symbol == "" {
		return fmt.Errorf("请配置指数代码 source.symbol")
	}
	if len(config.Source.Markets) == 0 {
		config.Source.Markets = []int{1, 0, 2, 47}
	}

	if config.Database.PoolMin <= 0 {
		config.Database.PoolMin = 2
	}
	if config.Database.PoolMax <= 0 {
		config.Database.PoolMax = 5
	}
	if config.Database.PoolIncrement <= 0 {
		config.Database.PoolIncrement = 1
	}
	if config.Database.PoolMin > config.Database.PoolMax {
		return fmt.Errorf("连接池最小连接数 %d 大于最大连接数 %d", config.Database.PoolMin, config.Database.PoolMax)
	}

	if config.Database.CommitEvery <= 0 {
		config.Database.CommitEvery = 1000
	}

	if len(config.Database.Columns) == 0 {
		config.Database.Columns = models.DefaultColumnMapping()
	}
	if !identifierPattern.MatchString(config.Database.Table) {
		return fmt.Errorf("非法表名: %q", config.Database.Table)
	}
	for _, m := range config.Database.Columns {
		if m.Source == "" || !identifierPattern.MatchString(m.Target) {
			return fmt.Errorf("非法列映射: %s -> %s", m.Source, m.Target)
		}
	}

	if config.History.Enabled && config.History.Type != "postgres" && config.History.Type != "mysql" {
		return fmt.Errorf("任务记录库类型必须是 postgres 或 mysql")
	}
	if config.History.Capacity <= 0 {
		config.History.Capacity = 100
	}

	// 不走 viper 默认值，避免与文件中的 triggers 合并
	if len(config.Scheduler.Triggers) == 0 {
		config.Scheduler.Triggers = DefaultTriggers()
	}

	if config.Screenshot.Wait <= 0 {
		config.Screenshot.Wait = 5
	}

	return nil
}

// DefaultTriggers 周一至周四 15:30，周五 17:30
func DefaultTriggers() map[string]string {
	return map[string]string{
		"mon": "15:30",
		"tue": "15:30",
		"wed": "15:30",
		"thu": "15:30",
		"fri": "17:30",
	}
}

// ValidIdentifier 校验表名/列名，避免拼接 SQL 时注入
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// GetDSN 获取目标库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "oracle":
		// godror logfmt 格式，libDir 指向本地 instant client
		dsn := fmt.Sprintf(`user=%q password=%q connectString="%s:%d/%s" poolMinSessions=%d poolMaxSessions=%d poolIncrement=%d`,
			c.User, c.Password, c.Host, c.Port, c.ServiceName, c.PoolMin, c.PoolMax, c.PoolIncrement)
		if c.LibDir != "" {
			dsn += fmt.Sprintf(" libDir=%q", c.LibDir)
		}
		return dsn
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=Asia/Shanghai",
			c.Host, c.Port, c.User, c.Password, c.DBName)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		return c.Path
	default:
		return ""
	}
}

// GetDSN 获取任务记录库连接字符串
func (c *HistoryConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=Asia/Shanghai",
			c.Host, c.Port, c.User, c.Password, c.DBName)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	default:
		return ""
	}
}
