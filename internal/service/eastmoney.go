package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"economy_index/internal/config"
	"economy_index/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNoData 指定日期范围没有行情（如非交易日）
	ErrNoData = errors.New("行情数据为空")
	// ErrUnknownSymbol 所有市场前缀均未查到该代码
	ErrUnknownSymbol = errors.New("未找到指数代码")
)

// K 线周期 -> klt 参数
var periodKlt = map[string]string{
	"daily":   "101",
	"weekly":  "102",
	"monthly": "103",
}

// EastmoneyClient 东方财富 K 线接口客户端
type EastmoneyClient struct {
	baseURL string
	markets []int
	retry   int
	client  *http.Client
	logger  *zap.Logger
}

// klineResponse 接口响应结构
type klineResponse struct {
	RC   int        `json:"rc"`
	Data *klineData `json:"data"`
}

// klineData 行情数据，klines 每项为逗号分隔的一行
type klineData struct {
	Code   string   `json:"code"`
	Market int      `json:"market"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}

// NewEastmoneyClient 创建东方财富客户端
func NewEastmoneyClient(cfg *config.SourceConfig, logger *zap.Logger) *EastmoneyClient {
	return &EastmoneyClient{
		baseURL: cfg.BaseURL,
		markets: cfg.Markets,
		retry:   cfg.Retry,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		logger: logger,
	}
}

// IndexHistory 获取指数历史行情
// period: daily/weekly/monthly
// startDate, endDate: YYYYMMDD
func (c *EastmoneyClient) IndexHistory(ctx context.Context, symbol, period, startDate, endDate string) (*models.Table, error) {
	klt, ok := periodKlt[period]
	if !ok {
		return nil, fmt.Errorf("不支持的周期: %s", period)
	}

	// 依次尝试各市场前缀，直到返回 data
	for _, market := range c.markets {
		params := url.Values{}
		params.Set("secid", fmt.Sprintf("%d.%s", market, symbol))
		params.Set("ut", "7eea3edcaed734bea9cbfc24409ed989")
		params.Set("fields1", "f1,f2,f3,f4,f5,f6")
		params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")
		params.Set("klt", klt)
		params.Set("fqt", "0")
		params.Set("beg", startDate)
		params.Set("end", endDate)

		data, err := c.request(ctx, params)
		if err != nil {
			c.logger.Error("获取指数历史数据失败",
				zap.String("symbol", symbol),
				zap.Int("market", market),
				zap.Error(err))
			return nil, err
		}
		if data == nil {
			continue
		}

		if len(data.Klines) == 0 {
			return nil, fmt.Errorf("%w: %s %s-%s", ErrNoData, symbol, startDate, endDate)
		}

		records := make([]models.IndexDaily, 0, len(data.Klines))
		for _, line := range data.Klines {
			record, err := parseKline(line)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}

		c.logger.Info("获取指数历史数据成功",
			zap.String("symbol", symbol),
			zap.String("name", data.Name),
			zap.Int("market", market),
			zap.Int("count", len(records)))

		return models.NewIndexTable(records), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// request 发送请求，返回 nil data 表示该 secid 不存在
func (c *EastmoneyClient) request(ctx context.Context, params url.Values) (*klineData, error) {
	var resp *klineResponse
	var lastErr error

	for i := 0; i <= c.retry; i++ {
		resp, lastErr = c.doRequest(ctx, params)
		if lastErr == nil {
			break
		}
		if i < c.retry {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second * time.Duration(i+1)):
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return resp.Data, nil
}

// doRequest 执行 HTTP 请求
func (c *EastmoneyClient) doRequest(ctx context.Context, params url.Values) (*klineResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("接口返回状态码 %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	return &resp, nil
}

// parseKline 解析一行 K 线：日期,开盘,收盘,最高,最低,成交量,成交额,振幅,涨跌幅,涨跌额,换手率
func parseKline(line string) (models.IndexDaily, error) {
	fields := strings.Split(line, ",")
	if len(fields) < len(models.SourceColumns) {
		return models.IndexDaily{}, fmt.Errorf("K 线字段数不足: %q", line)
	}

	values := make([]float64, len(models.SourceColumns)-1)
	for i := range values {
		v, err := getFloat(fields[i+1])
		if err != nil {
			return models.IndexDaily{}, fmt.Errorf("解析 %s 失败: %w", models.SourceColumns[i+1], err)
		}
		values[i] = v
	}

	return models.IndexDaily{
		Date:      fields[0],
		Open:      values[0],
		Close:     values[1],
		High:      values[2],
		Low:       values[3],
		Volume:    values[4],
		Amount:    values[5],
		Amplitude: values[6],
		PctChg:    values[7],
		Change:    values[8],
		Turnover:  values[9],
	}, nil
}

// getFloat 空值和 "-" 视为 0
func getFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
