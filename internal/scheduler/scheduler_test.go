package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"economy_index/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultTable() map[string]string {
	return map[string]string{
		"mon": "15:30",
		"tue": "15:30",
		"wed": "15:30",
		"thu": "15:30",
		"fri": "17:30",
	}
}

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context, trigger string) (*models.JobRun, error) {
	r.calls.Add(1)
	return &models.JobRun{Trigger: trigger}, nil
}

func TestParseTriggers_Default(t *testing.T) {
	triggers, err := ParseTriggers(defaultTable())
	require.NoError(t, err)
	require.Len(t, triggers, 5)

	assert.Equal(t, Trigger{Weekday: time.Monday, Hour: 15, Minute: 30}, triggers[0])
	assert.Equal(t, Trigger{Weekday: time.Friday, Hour: 17, Minute: 30}, triggers[4])
	assert.Equal(t, "30 15 * * 1", triggers[0].Spec())
	assert.Equal(t, "30 17 * * 5", triggers[4].Spec())
}

func TestParseTriggers_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		table map[string]string
	}{
		{"empty", map[string]string{}},
		{"bad weekday", map[string]string{"monday!": "15:30"}},
		{"bad clock", map[string]string{"mon": "25:30"}},
		{"missing minutes", map[string]string{"fri": "17"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTriggers(tt.table)
			assert.Error(t, err)
		})
	}
}

// TestTriggers_OneWeek 一周内恰好触发周一到周四 15:30、周五 17:30
func TestTriggers_OneWeek(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	triggers, err := ParseTriggers(defaultTable())
	require.NoError(t, err)

	// 2024-01-07 是周日
	start := time.Date(2024, 1, 7, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 7)

	var fired []time.Time
	for _, tr := range triggers {
		schedule, err := cron.ParseStandard(tr.Spec())
		require.NoError(t, err)
		for next := schedule.Next(start); next.Before(end); next = schedule.Next(next) {
			fired = append(fired, next)
		}
	}

	expected := []time.Time{
		time.Date(2024, 1, 8, 15, 30, 0, 0, loc),
		time.Date(2024, 1, 9, 15, 30, 0, 0, loc),
		time.Date(2024, 1, 10, 15, 30, 0, 0, loc),
		time.Date(2024, 1, 11, 15, 30, 0, 0, loc),
		time.Date(2024, 1, 12, 17, 30, 0, 0, loc),
	}
	require.Len(t, fired, len(expected))
	for i := range expected {
		assert.True(t, expected[i].Equal(fired[i]), "第 %d 次触发: 期望 %s，实际 %s", i, expected[i], fired[i])
	}
}

func TestScheduler_Entries(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	triggers, err := ParseTriggers(defaultTable())
	require.NoError(t, err)

	s, err := New(&countingRunner{}, triggers, loc, zap.NewNop())
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Before(entries[i-1]))
	}
	for _, next := range entries {
		wd := next.In(loc).Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, []Trigger{{Weekday: time.Monday, Hour: 15, Minute: 30}}, time.UTC, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_Fire(t *testing.T) {
	runner := &countingRunner{}
	s, err := New(runner, nil, time.UTC, zap.NewNop())
	require.NoError(t, err)

	s.fire()
	s.fire()
	assert.Equal(t, int32(2), runner.calls.Load())
}
