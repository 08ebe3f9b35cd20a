package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// JobsChannel is the NOTIFY channel enqueuers signal after inserting jobs.
const JobsChannel = "forge_jobs"

// Listener holds a dedicated pgx connection on LISTEN and reports each
// notification. It reconnects with backoff until ctx is done.
type Listener struct {
	log     *logger.Logger
	dsn     string
	channel string
}

func NewListener(log *logger.Logger, dsn, channel string) *Listener {
	return &Listener{log: log.With("service", "PgListener", "channel", channel), dsn: dsn, channel: channel}
}

func (l *Listener) Run(ctx context.Context, onNotify func(payload string)) error {
	backoff := time.Second
	for {
		err := l.listenOnce(ctx, onNotify)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("listener disconnected; reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, onNotify func(payload string)) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.log.Info("listening for job notifications")
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		onNotify(n.Payload)
	}
}
