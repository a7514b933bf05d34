package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// Dialect 不同目标库的占位符与事务差异
type Dialect struct {
	Type string
	// named 使用 :COL 命名绑定（oracle、sqlite）
	named bool
	// savepoints 语句失败会中止整个事务（postgres），需逐行保存点
	savepoints bool
}

// DialectFor 根据数据库类型返回方言
func DialectFor(dbType string) (Dialect, error) {
	switch dbType {
	case "oracle", "sqlite":
		return Dialect{Type: dbType, named: true}, nil
	case "postgres":
		return Dialect{Type: dbType, savepoints: true}, nil
	case "mysql":
		return Dialect{Type: dbType}, nil
	default:
		return Dialect{}, fmt.Errorf("不支持的数据库类型: %s", dbType)
	}
}

// Placeholder 第 i 个（从 0 开始）参数的占位符
func (d Dialect) Placeholder(i int, column string) string {
	switch {
	case d.named:
		return ":" + column
	case d.Type == "postgres":
		return fmt.Sprintf("$%d", i+1)
	default:
		return "?"
	}
}

// Arg 包装绑定参数
func (d Dialect) Arg(column string, value interface{}) interface{} {
	if d.named {
		return sql.Named(column, value)
	}
	return value
}

// Savepoints 是否需要逐行保存点
func (d Dialect) Savepoints() bool {
	return d.savepoints
}

// InsertSQL 生成参数化 INSERT 语句
func (d Dialect) InsertSQL(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = d.Placeholder(i, col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}
