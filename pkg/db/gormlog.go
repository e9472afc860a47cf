package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

// queryLog sends GORM diagnostics through the service logger. Failed and
// slow statements are logged with placeholders only; bound values can carry
// phone numbers and code hashes.
type queryLog struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

var hideRecordedParams sync.Once

func newQueryLog(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	// Scan renders its SQL through gorm's package-level recorder,
	// which never consults our ParamsFilter.
	hideRecordedParams.Do(func() {
		gormlogger.RecorderParamsFilter = dropParams
	})
	return &queryLog{logg: logg, slow: slow, level: gormlogger.Warn}
}

func (q *queryLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.level = level
	return &clone
}

func (q *queryLog) Info(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLog) Warn(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLog) Error(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
	}
}

func (q *queryLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed > q.slow
	if !(failed && q.level >= gormlogger.Error) && !(slow && q.level >= gormlogger.Warn) {
		return
	}

	sql, rows := fc()
	logCtx := q.logg.WithFields(ctx, map[string]any{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if failed {
		q.logg.Error(logCtx, "sql query failed", err)
		return
	}
	q.logg.Warn(logCtx, "slow sql query")
}

// ParamsFilter drops bound values before GORM renders the statement.
func (q *queryLog) ParamsFilter(ctx context.Context, sql string, params ...any) (string, []any) {
	return dropParams(ctx, sql, params...)
}

func dropParams(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}
