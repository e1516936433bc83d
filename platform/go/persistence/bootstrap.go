package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/tradecore-io/tradecore-saas/database"
)

// BootstrapControlPlane applies the control-plane DDL to the master database.
// SQL is embedded at build time so binaries stay self-contained; every
// statement is CREATE ... IF NOT EXISTS, so repeated startup is safe.
func BootstrapControlPlane(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap control plane: pool is required")
	}
	for _, stmt := range SplitSQLStatements(sqlassets.ControlPlaneSQL) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap control plane: %w", err)
		}
	}
	return nil
}

// SplitSQLStatements splits a DDL script on statement terminators, dropping
// blanks and comment-only fragments. Sufficient for the embedded schemas,
// which contain no function bodies or dollar quoting.
func SplitSQLStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(part)
		if stmt == "" || isCommentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
