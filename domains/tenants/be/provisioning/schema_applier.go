package provisioning

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/tradecore-io/tradecore-saas/platform/go/persistence"
)

// SchemaApplier brings a tenant database to the current application schema.
// Two implementations exist: an external schema-push tool and a direct-SQL
// fallback. FallbackApplier composes them so the fallback is a first-class
// code path, not an exception handler.
type SchemaApplier interface {
	Name() string
	Apply(ctx context.Context, dsn string) error
}

// ToolApplier invokes an external schema migration command against the
// tenant's connection string. The invocation is bounded by a timeout so a
// hung tool cannot stall provisioning.
type ToolApplier struct {
	command string
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewToolApplier builds a ToolApplier. Occurrences of "{dsn}" in args are
// replaced with the tenant connection string; the DSN is also exported as
// DATABASE_URL for tools that read it from the environment.
func NewToolApplier(command string, args []string, timeout time.Duration, logger *zap.Logger) *ToolApplier {
	if command == "" {
		panic("tool applier requires command")
	}
	if logger == nil {
		panic("tool applier requires logger")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolApplier{command: command, args: args, timeout: timeout, logger: logger}
}

func (a *ToolApplier) Name() string { return "tool:" + a.command }

func (a *ToolApplier) Apply(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := make([]string, len(a.args))
	for i, arg := range a.args {
		args[i] = strings.ReplaceAll(arg, "{dsn}", dsn)
	}

	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Env = append(os.Environ(), "DATABASE_URL="+dsn)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("schema tool %s: %w: %s", a.command, err, tail(string(out), 500))
	}
	a.logger.Info("schema applied via tool", zap.String("command", a.command))
	return nil
}

// stmtExecutor is the slice of pgx.Conn the SQL applier uses; swapped in
// tests.
type stmtExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// SQLApplier executes an embedded schema script statement by statement.
// Individual statement failures (e.g. an object that already exists) are
// logged and tolerated so reruns against partially schema'd databases make
// progress instead of aborting.
type SQLApplier struct {
	script string
	logger *zap.Logger

	connect func(ctx context.Context, dsn string) (stmtExecutor, error)
}

// NewSQLApplier builds a SQLApplier over the given DDL script.
func NewSQLApplier(script string, logger *zap.Logger) *SQLApplier {
	if strings.TrimSpace(script) == "" {
		panic("sql applier requires schema script")
	}
	if logger == nil {
		panic("sql applier requires logger")
	}
	return &SQLApplier{
		script: script,
		logger: logger,
		connect: func(ctx context.Context, dsn string) (stmtExecutor, error) {
			return pgx.Connect(ctx, dsn)
		},
	}
}

func (a *SQLApplier) Name() string { return "sql" }

func (a *SQLApplier) Apply(ctx context.Context, dsn string) error {
	conn, err := a.connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for schema apply: %w", err)
	}
	defer conn.Close(ctx) // nolint:errcheck

	var failed int
	statements := persistence.SplitSQLStatements(a.script)
	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			failed++
			a.logger.Warn("schema statement failed",
				zap.String("statement", tail(stmt, 120)),
				zap.Error(err),
			)
		}
	}
	a.logger.Info("schema applied via sql",
		zap.Int("statements", len(statements)),
		zap.Int("failed", failed),
	)
	return nil
}

// FallbackApplier tries the primary applier and falls back to the secondary
// on any failure, including timeout.
type FallbackApplier struct {
	primary  SchemaApplier
	fallback SchemaApplier
	logger   *zap.Logger
}

// NewFallbackApplier composes two appliers.
func NewFallbackApplier(primary, fallback SchemaApplier, logger *zap.Logger) *FallbackApplier {
	if primary == nil || fallback == nil {
		panic("fallback applier requires both appliers")
	}
	if logger == nil {
		panic("fallback applier requires logger")
	}
	return &FallbackApplier{primary: primary, fallback: fallback, logger: logger}
}

func (a *FallbackApplier) Name() string {
	return a.primary.Name() + "->" + a.fallback.Name()
}

func (a *FallbackApplier) Apply(ctx context.Context, dsn string) error {
	if err := a.primary.Apply(ctx, dsn); err != nil {
		a.logger.Warn("primary schema applier failed, falling back",
			zap.String("primary", a.primary.Name()),
			zap.String("fallback", a.fallback.Name()),
			zap.Error(err),
		)
		return a.fallback.Apply(ctx, dsn)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
