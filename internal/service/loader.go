package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	"economy_index/internal/config"
	"economy_index/internal/database"
	"economy_index/internal/models"

	"go.uber.org/zap"
)

// MissingColumnsError 抓取结果缺少映射所需的列
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("数据缺少以下列: [%s]", strings.Join(e.Columns, ", "))
}

// LoadResult 入库统计
type LoadResult struct {
	Total    int
	Inserted int
	Failed   int
}

// Loader 按列映射逐行写入目标表
type Loader struct {
	dialect     database.Dialect
	commitEvery int
	logger      *zap.Logger
}

// NewLoader 创建入库服务
func NewLoader(dbType string, commitEvery int, logger *zap.Logger) (*Loader, error) {
	dialect, err := database.DialectFor(dbType)
	if err != nil {
		return nil, err
	}
	if commitEvery <= 0 {
		commitEvery = 1000
	}
	return &Loader{
		dialect:     dialect,
		commitEvery: commitEvery,
		logger:      logger,
	}, nil
}

// Load 校验列、生成 INSERT 并逐行写入。
// 行级错误记录后跳过；校验失败时不访问数据库。
func (l *Loader) Load(ctx context.Context, pool *sql.DB, table *models.Table, tableName string, mapping []models.ColumnMapping) (*LoadResult, error) {
	fieldMap := table.FieldMap()

	if missing := missingColumns(fieldMap, mapping); len(missing) > 0 {
		err := &MissingColumnsError{Columns: missing}
		l.logger.Error("数据库插入失败", zap.Error(err))
		return nil, err
	}

	if err := validateTarget(tableName, mapping); err != nil {
		l.logger.Error("数据库插入失败", zap.Error(err))
		return nil, err
	}

	columns := make([]string, len(mapping))
	for i, m := range mapping {
		columns[i] = m.Target
	}
	query := l.dialect.InsertSQL(tableName, columns)

	result := &LoadResult{Total: table.Len()}
	if err := l.insertRows(ctx, pool, query, table, fieldMap, mapping, result); err != nil {
		l.logger.Error("数据库插入失败",
			zap.String("table", tableName),
			zap.Int("inserted", result.Inserted),
			zap.Error(err))
		return result, err
	}

	l.logger.Info("成功插入记录",
		zap.String("table", tableName),
		zap.Int("total", result.Total),
		zap.Int("inserted", result.Inserted),
		zap.Int("failed", result.Failed))

	return result, nil
}

// insertRows 占用一个连接和一个事务，每 commitEvery 行提交一次
func (l *Loader) insertRows(ctx context.Context, pool *sql.DB, query string, table *models.Table,
	fieldMap map[string]int, mapping []models.ColumnMapping, result *LoadResult) (err error) {

	conn, err := pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("获取数据库连接失败: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() {
		if err != nil && tx != nil {
			_ = tx.Rollback()
		}
	}()

	for index, row := range table.Rows {
		// 不写入缺列的记录
		if len(row) < len(table.Columns) {
			result.Failed++
			l.logger.Error("记录插入失败", zap.Int("index", index),
				zap.Error(fmt.Errorf("记录只有 %d 列，应为 %d 列", len(row), len(table.Columns))))
			continue
		}

		args, params := l.rowArgs(row, fieldMap, mapping)
		l.logger.Debug("插入参数", zap.Int("index", index), zap.Any("params", params))

		if execErr := l.execRow(ctx, tx, query, args); execErr != nil {
			if isFatal(execErr) {
				return fmt.Errorf("第 %d 条记录插入中断: %w", index, execErr)
			}
			result.Failed++
			l.logger.Error("记录插入失败", zap.Int("index", index), zap.Error(execErr))
			continue
		}
		result.Inserted++

		if index%l.commitEvery == 0 {
			if err = tx.Commit(); err != nil {
				tx = nil
				return fmt.Errorf("提交事务失败: %w", err)
			}
			if tx, err = conn.BeginTx(ctx, nil); err != nil {
				return fmt.Errorf("开启事务失败: %w", err)
			}
			l.logger.Info("已插入记录", zap.Int("index", index))
		}
	}

	if err = tx.Commit(); err != nil {
		tx = nil
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// execRow 执行单行插入；postgres 用保存点隔离失败行
func (l *Loader) execRow(ctx context.Context, tx *sql.Tx, query string, args []interface{}) error {
	if !l.dialect.Savepoints() {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT loader_row"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT loader_row"); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT loader_row")
	return err
}

// rowArgs 按映射顺序取值，params 仅用于日志
func (l *Loader) rowArgs(row []interface{}, fieldMap map[string]int, mapping []models.ColumnMapping) ([]interface{}, map[string]interface{}) {
	args := make([]interface{}, len(mapping))
	params := make(map[string]interface{}, len(mapping))
	for i, m := range mapping {
		v := row[fieldMap[m.Source]]
		args[i] = l.dialect.Arg(m.Target, v)
		params[m.Target] = v
	}
	return args, params
}

// missingColumns 返回映射中存在但表中缺失的源列（已排序）
func missingColumns(fieldMap map[string]int, mapping []models.ColumnMapping) []string {
	var missing []string
	for _, m := range mapping {
		if _, ok := fieldMap[m.Source]; !ok {
			missing = append(missing, m.Source)
		}
	}
	sort.Strings(missing)
	return missing
}

func validateTarget(tableName string, mapping []models.ColumnMapping) error {
	if len(mapping) == 0 {
		return fmt.Errorf("列映射为空")
	}
	if !config.ValidIdentifier(tableName) {
		return fmt.Errorf("非法表名: %q", tableName)
	}
	for _, m := range mapping {
		if !config.ValidIdentifier(m.Target) {
			return fmt.Errorf("非法列名: %q", m.Target)
		}
	}
	return nil
}

// isFatal 连接级错误不能按行跳过
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone)
}
