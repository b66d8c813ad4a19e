package chain

import (
	"context"
	"log/slog"
)

// LogExecutions writes every event of events to logger and returns a func
// that stops it. Starts are logged at debug level, completions at info,
// cancellations at warn and failures at error.
//
//	stop := chain.LogExecutions(chain.GlobalEvents(), slog.Default())
//	defer stop()
func LogExecutions(events *Events, logger *slog.Logger) (stop func()) {
	if events == nil {
		return func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return events.SubscribeAll(func(ev ExecutionEvent) {
		attrs := []slog.Attr{slog.String("datasource", ev.DataSource)}
		if t := ev.Token; t != nil {
			attrs = append(attrs,
				slog.String("token", t.ID()),
				slog.String("operation", t.Operation()),
				slog.String("sql", t.CommandText()),
			)
		}
		ctx := context.Background()
		switch ev.Kind {
		case EventStarted:
			logger.LogAttrs(ctx, slog.LevelDebug, "execution started", attrs...)
		case EventFinished:
			attrs = append(attrs, slog.Duration("duration", ev.Duration()))
			if ev.RowsAffected != nil {
				attrs = append(attrs, slog.Int64("rows_affected", *ev.RowsAffected))
			}
			logger.LogAttrs(ctx, slog.LevelInfo, "execution finished", attrs...)
		case EventCanceled:
			attrs = append(attrs, slog.Duration("duration", ev.Duration()), slog.Any("error", ev.Err))
			logger.LogAttrs(ctx, slog.LevelWarn, "execution canceled", attrs...)
		case EventError:
			attrs = append(attrs, slog.Duration("duration", ev.Duration()), slog.Any("error", ev.Err))
			logger.LogAttrs(ctx, slog.LevelError, "execution failed", attrs...)
		}
	})
}
