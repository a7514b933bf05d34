package service

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"economy_index/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"
)

const testTable = "TB_HY_ECONOMY"

const createTestTable = `CREATE TABLE TB_HY_ECONOMY (
	DT_TIME   TEXT NOT NULL,
	NM_OPEN   REAL NOT NULL,
	NM_CLOSE  REAL,
	NM_HIGH   REAL,
	NM_LOW    REAL,
	NM_VOL    REAL,
	NM_AMT    REAL,
	NM_AMP    REAL,
	NM_PCTCHG REAL,
	NM_CHG    REAL,
	NM_TR     REAL
)`

// setupTestDB 文件库，保证连接池内各连接看到同一份数据
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "economy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(createTestTable)
	require.NoError(t, err)
	return db
}

func newObservedLoader(t *testing.T, commitEvery int) (*Loader, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	loader, err := NewLoader("sqlite", commitEvery, zap.New(core))
	require.NoError(t, err)
	return loader, logs
}

func buildTable(n int) *models.Table {
	records := make([]models.IndexDaily, n)
	for i := range records {
		records[i] = models.IndexDaily{
			Date:  fmt.Sprintf("2024-01-02#%05d", i),
			Open:  10.0 + float64(i),
			Close: 10.5,
			High:  11,
			Low:   9.5,
		}
	}
	return models.NewIndexTable(records)
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+testTable).Scan(&n))
	return n
}

func TestLoad_InsertsAllRows(t *testing.T) {
	db := setupTestDB(t)
	loader, logs := newObservedLoader(t, 1000)

	result, err := loader.Load(context.Background(), db, buildTable(3), testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, &LoadResult{Total: 3, Inserted: 3, Failed: 0}, result)
	assert.Equal(t, 3, countRows(t, db))

	// 每行一组调试参数
	assert.Equal(t, 3, logs.FilterMessage("插入参数").Len())

	var open float64
	require.NoError(t, db.QueryRow("SELECT NM_OPEN FROM "+testTable+" WHERE DT_TIME = ?", "2024-01-02#00002").Scan(&open))
	assert.Equal(t, 12.0, open)
}

// TestLoad_CommitEvery1000 下标 0、1000、2000 处提交，最后再提交一次
func TestLoad_CommitEvery1000(t *testing.T) {
	db := setupTestDB(t)
	loader, logs := newObservedLoader(t, 1000)

	result, err := loader.Load(context.Background(), db, buildTable(2500), testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, 2500, result.Inserted)
	assert.Equal(t, 2500, countRows(t, db))

	commits := logs.FilterMessage("已插入记录").All()
	require.Len(t, commits, 3)
	for i, entry := range commits {
		assert.Equal(t, int64(i*1000), entry.ContextMap()["index"])
	}
	assert.Equal(t, 1, logs.FilterMessage("成功插入记录").Len())
}

// TestLoad_SkipsFailedRow 失败行跳过，后续行照常写入
func TestLoad_SkipsFailedRow(t *testing.T) {
	db := setupTestDB(t)
	loader, logs := newObservedLoader(t, 1000)

	table := buildTable(5)
	table.Rows[2][table.FieldMap()[models.ColOpen]] = nil // 违反 NOT NULL

	result, err := loader.Load(context.Background(), db, table, testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, &LoadResult{Total: 5, Inserted: 4, Failed: 1}, result)
	assert.Equal(t, 4, countRows(t, db))

	failures := logs.FilterMessage("记录插入失败").All()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(2), failures[0].ContextMap()["index"])
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
}

// TestLoad_ShortRowSkipped 列数不足的记录按失败处理，不写入空值
func TestLoad_ShortRowSkipped(t *testing.T) {
	db := setupTestDB(t)
	loader, logs := newObservedLoader(t, 1000)

	table := buildTable(3)
	table.Rows[1] = table.Rows[1][:5]

	result, err := loader.Load(context.Background(), db, table, testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, &LoadResult{Total: 3, Inserted: 2, Failed: 1}, result)
	assert.Equal(t, 2, countRows(t, db))

	var nulls int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+testTable+" WHERE NM_TR IS NULL").Scan(&nulls))
	assert.Equal(t, 0, nulls)

	failures := logs.FilterMessage("记录插入失败").All()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(1), failures[0].ContextMap()["index"])
}

// TestLoad_FailedRowAtCommitIndex 提交点上的行失败时不提交，最终提交兜底
func TestLoad_FailedRowAtCommitIndex(t *testing.T) {
	db := setupTestDB(t)
	loader, logs := newObservedLoader(t, 1000)

	table := buildTable(1500)
	table.Rows[1000][table.FieldMap()[models.ColOpen]] = nil

	result, err := loader.Load(context.Background(), db, table, testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, 1499, result.Inserted)
	assert.Equal(t, 1499, countRows(t, db))
	assert.Equal(t, 1, logs.FilterMessage("已插入记录").Len())
}

// TestLoad_MissingColumns 缺列时在访问数据库之前失败
func TestLoad_MissingColumns(t *testing.T) {
	loader, _ := newObservedLoader(t, 1000)

	table := buildTable(1)
	table.Columns[table.FieldMap()[models.ColVolume]] = "volume"

	// pool 为 nil：任何数据库调用都会 panic
	result, err := loader.Load(context.Background(), nil, table, testTable, models.DefaultColumnMapping())

	require.Error(t, err)
	assert.Nil(t, result)

	var missingErr *MissingColumnsError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, []string{models.ColVolume}, missingErr.Columns)
	assert.Contains(t, err.Error(), "成交量")
}

func TestLoad_MissingColumnsNamesAll(t *testing.T) {
	loader, _ := newObservedLoader(t, 1000)

	table := &models.Table{
		Columns: []string{models.ColDate, models.ColOpen},
		Rows:    [][]interface{}{{"2024-01-02", 10.0}},
	}

	_, err := loader.Load(context.Background(), nil, table, testTable, models.DefaultColumnMapping())

	var missingErr *MissingColumnsError
	require.ErrorAs(t, err, &missingErr)
	assert.Len(t, missingErr.Columns, 9)
	assert.NotContains(t, missingErr.Columns, models.ColDate)
	assert.NotContains(t, missingErr.Columns, models.ColOpen)
	assert.IsIncreasing(t, missingErr.Columns)
}

func TestLoad_InvalidTarget(t *testing.T) {
	loader, _ := newObservedLoader(t, 1000)

	_, err := loader.Load(context.Background(), nil, buildTable(1), "T; DROP TABLE X", models.DefaultColumnMapping())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "非法表名")
}

// TestLoad_CanceledContext 连接级错误向上抛出
func TestLoad_CanceledContext(t *testing.T) {
	db := setupTestDB(t)
	loader, _ := newObservedLoader(t, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Load(ctx, db, buildTable(3), testTable, models.DefaultColumnMapping())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, countRows(t, db))
}

func TestLoad_EmptyTable(t *testing.T) {
	db := setupTestDB(t)
	loader, _ := newObservedLoader(t, 1000)

	result, err := loader.Load(context.Background(), db, buildTable(0), testTable, models.DefaultColumnMapping())

	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
}

// TestLoad_Duplicates 重复运行会产生重复行
func TestLoad_Duplicates(t *testing.T) {
	db := setupTestDB(t)
	loader, _ := newObservedLoader(t, 1000)

	for i := 0; i < 2; i++ {
		_, err := loader.Load(context.Background(), db, buildTable(1), testTable, models.DefaultColumnMapping())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, countRows(t, db))
}

func TestNewLoader_UnsupportedType(t *testing.T) {
	_, err := NewLoader("mssql", 1000, zap.NewNop())
	require.Error(t, err)
}
