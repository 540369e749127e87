package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RunMigrations applies every *.sql file in dir in lexical order. Files
// must be idempotent; there is no version table.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, dir string, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping migrations")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)

	for _, name := range filenames {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		logger.Info("applying migration", zap.String("file", name))
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}

	logger.Info("migrations applied", zap.Int("count", len(filenames)))
	return nil
}

// SQLRunner executes fix migrations produced by autopatch instructions.
// Each script runs in its own transaction.
type SQLRunner struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSQLRunner wraps the pool. A nil pool yields a runner that refuses
// every script.
func NewSQLRunner(pool *pgxpool.Pool, logger *zap.Logger) *SQLRunner {
	return &SQLRunner{pool: pool, logger: logger.Named("sql_runner")}
}

// RunSQL applies script inside a transaction.
func (r *SQLRunner) RunSQL(ctx context.Context, name, script string) error {
	if r.pool == nil {
		return errors.New("postgres pool not configured")
	}
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("migration %s is empty", name)
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, script)
		return err
	})
	if err != nil {
		return fmt.Errorf("run migration %s: %w", name, err)
	}
	r.logger.Info("fix migration applied", zap.String("name", name))
	return nil
}
