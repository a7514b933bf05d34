package models

import (
	"fmt"
	"time"
)

// 东方财富 K 线字段（中文列名）
const (
	ColDate      = "日期"
	ColOpen      = "开盘"
	ColClose     = "收盘"
	ColHigh      = "最高"
	ColLow       = "最低"
	ColVolume    = "成交量"
	ColAmount    = "成交额"
	ColAmplitude = "振幅"
	ColPctChg    = "涨跌幅"
	ColChange    = "涨跌额"
	ColTurnover  = "换手率"
)

// SourceColumns K 线返回的列顺序
var SourceColumns = []string{
	ColDate, ColOpen, ColClose, ColHigh, ColLow, ColVolume,
	ColAmount, ColAmplitude, ColPctChg, ColChange, ColTurnover,
}

// IndexDaily 指数日线数据
type IndexDaily struct {
	Date      string  `json:"date"`      // 日期 YYYY-MM-DD
	Open      float64 `json:"open"`      // 开盘
	Close     float64 `json:"close"`     // 收盘
	High      float64 `json:"high"`      // 最高
	Low       float64 `json:"low"`       // 最低
	Volume    float64 `json:"volume"`    // 成交量
	Amount    float64 `json:"amount"`    // 成交额
	Amplitude float64 `json:"amplitude"` // 振幅
	PctChg    float64 `json:"pct_chg"`   // 涨跌幅
	Change    float64 `json:"change"`    // 涨跌额
	Turnover  float64 `json:"turnover"`  // 换手率
}

// Values 按 SourceColumns 顺序返回字段值
func (d IndexDaily) Values() []interface{} {
	return []interface{}{
		d.Date, d.Open, d.Close, d.High, d.Low, d.Volume,
		d.Amount, d.Amplitude, d.PctChg, d.Change, d.Turnover,
	}
}

// Table 抓取结果，按列名访问的二维表
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// NewIndexTable 由日线数据构建表
func NewIndexTable(records []IndexDaily) *Table {
	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Values())
	}
	columns := make([]string, len(SourceColumns))
	copy(columns, SourceColumns)
	return &Table{Columns: columns, Rows: rows}
}

// Len 行数
func (t *Table) Len() int {
	return len(t.Rows)
}

// FieldMap 列名 -> 列下标
func (t *Table) FieldMap() map[string]int {
	fieldMap := make(map[string]int, len(t.Columns))
	for i, col := range t.Columns {
		fieldMap[col] = i
	}
	return fieldMap
}

// ConvertColumn 对指定列逐行做类型转换
func (t *Table) ConvertColumn(column string, fn func(interface{}) (interface{}, error)) error {
	idx, ok := t.FieldMap()[column]
	if !ok {
		return fmt.Errorf("列 %s 不存在", column)
	}
	for i, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		v, err := fn(row[idx])
		if err != nil {
			return fmt.Errorf("第 %d 行 %s 转换失败: %w", i, column, err)
		}
		row[idx] = v
	}
	return nil
}

// ColumnMapping 源列名到目标库列名的映射
type ColumnMapping struct {
	Source string `mapstructure:"source" json:"source"`
	Target string `mapstructure:"target" json:"target"`
}

// DefaultColumnMapping 默认入库映射（HY.TB_HY_ECONOMY）
func DefaultColumnMapping() []ColumnMapping {
	return []ColumnMapping{
		{Source: ColDate, Target: "DT_TIME"},
		{Source: ColOpen, Target: "NM_OPEN"},
		{Source: ColClose, Target: "NM_CLOSE"},
		{Source: ColHigh, Target: "NM_HIGH"},
		{Source: ColLow, Target: "NM_LOW"},
		{Source: ColVolume, Target: "NM_VOL"},
		{Source: ColAmount, Target: "NM_AMT"},
		{Source: ColAmplitude, Target: "NM_AMP"},
		{Source: ColPctChg, Target: "NM_PCTCHG"},
		{Source: ColChange, Target: "NM_CHG"},
		{Source: ColTurnover, Target: "NM_TR"},
	}
}

// 任务触发方式
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// 任务状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// JobRun 定时任务执行记录
type JobRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	RunID         string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"run_id"` // 任务ID
	Trigger       string     `gorm:"type:varchar(20)" json:"trigger"`                     // 触发方式：schedule/manual/startup
	Symbol        string     `gorm:"type:varchar(20)" json:"symbol"`                      // 指数代码
	TradeDate     string     `gorm:"type:varchar(8)" json:"trade_date"`                   // 抓取日期
	Status        string     `gorm:"type:varchar(20)" json:"status"`                      // 状态：running/completed/failed
	FetchedCount  int        `gorm:"type:int" json:"fetched_count"`                       // 抓取行数
	InsertedCount int        `gorm:"type:int" json:"inserted_count"`                      // 入库行数
	FailedCount   int        `gorm:"type:int" json:"failed_count"`                        // 失败行数
	ErrorMsg      string     `gorm:"type:text" json:"error_msg"`                          // 错误信息
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (JobRun) TableName() string {
	return "job_runs"
}
