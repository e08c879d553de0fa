package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BranchIntl/windup/workers"
)

// builtinHandlers are the handlers the run command serves
func builtinHandlers() *workers.Handlers {
	h := workers.NewHandlers()

	_ = h.Register("log", func(msg any) any {
		return workers.HandlerFunc(func(ctx context.Context) (any, error) {
			slog.Info("Job message", "msg", msg)
			return msg, nil
		})
	})

	_ = h.Register("sleep", func(msg any) any {
		return workers.HandlerFunc(func(ctx context.Context) (any, error) {
			d, err := time.ParseDuration(fmt.Sprint(msg))
			if err != nil {
				return nil, fmt.Errorf("sleep: %w", err)
			}
			select {
			case <-time.After(d):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	})

	_ = h.Register("fail", func(msg any) any {
		return workers.HandlerFunc(func(ctx context.Context) (any, error) {
			return nil, stderrors.New(fmt.Sprint(msg))
		})
	})

	return h
}
