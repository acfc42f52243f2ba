package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	chstore "dust-sweeper/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed, applies the
// embedded SQL files and returns a connection to that database.
// Statements must be idempotent (CREATE ... IF NOT EXISTS); ClickHouse has no
// transactional DDL to record progress against.
func RunClickhouseMigrations(ctx context.Context, dsn string) (conn *chstore.Conn, err error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err = chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
			conn = nil
		}
	}()

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := Statements(string(data))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", file, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}

	return conn, nil
}

func createDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

// Statements splits a ClickHouse migration into statements, since the driver
// does not accept multi-statement Exec. The splitter is line based: "--"
// comment lines are dropped and semicolons end statements. A semicolon inside
// a string literal is rejected because it would be split.
func Statements(sql string) ([]string, error) {
	if err := checkNoSemicolonInStrings(sql); err != nil {
		return nil, err
	}

	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func checkNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // escaped quote
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
