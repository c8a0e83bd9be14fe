// Package dbtest runs a throwaway Postgres in Docker for repository tests.
// Tests call Run from TestMain and DB from each test; when Docker is not
// reachable or -short is set, DB skips the test.
package dbtest

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/portal/internal/config"
	"github.com/elskow/portal/internal/database"
	"github.com/elskow/portal/internal/migration"
)

var (
	manager  *database.Manager
	startErr error
)

// Run starts Postgres, applies the migrations, runs the tests and purges the
// container. Its result goes to os.Exit.
func Run(m *testing.M) int {
	flag.Parse()
	if testing.Short() {
		startErr = fmt.Errorf("short mode")
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		startErr = fmt.Errorf("could not connect to docker: %w", err)
		return m.Run()
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=portal_test",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		startErr = fmt.Errorf("could not start postgres: %w", err)
		return m.Run()
	}
	defer func() {
		if err := pool.Purge(resource); err != nil {
			fmt.Fprintf(os.Stderr, "could not purge postgres: %s\n", err)
		}
	}()
	_ = resource.Expire(300)

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		startErr = fmt.Errorf("invalid postgres port: %w", err)
		return m.Run()
	}
	cfg := &config.DatabaseConfig{
		Host:     "localhost",
		Port:     port,
		User:     "postgres",
		Password: "postgres",
		Name:     "portal_test",
		SSLMode:  "disable",
		LogLevel: "silent",
	}

	if err := pool.Retry(func() error {
		mgr, err := database.NewManager(cfg, zap.NewNop())
		if err != nil {
			return err
		}
		sqlDB, err := mgr.DB().DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			_ = mgr.Close()
			return err
		}
		manager = mgr
		return nil
	}); err != nil {
		startErr = fmt.Errorf("could not connect to postgres: %w", err)
		return m.Run()
	}
	defer manager.Close()

	if err := migrate(cfg); err != nil {
		startErr = err
		return m.Run()
	}

	return m.Run()
}

func migrate(cfg *config.DatabaseConfig) error {
	migrator, err := migration.NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer migrator.Close()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}
	return nil
}

// DB returns the migrated database with every table emptied, or skips the
// test when no database could be started.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	if manager == nil {
		if startErr == nil {
			startErr = fmt.Errorf("dbtest.Run was not called from TestMain")
		}
		t.Skipf("postgres unavailable: %v", startErr)
	}

	db := manager.DB()
	err := db.Exec("TRUNCATE access_requests, users, audit_logs RESTART IDENTITY CASCADE").Error
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}
