// File: credentials/mysql.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MySQL backed handles. Each handle owns a database/sql pool limited to one
// connection, so a pool of N handles holds exactly N server sessions.

package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const errDupEntry = 1062

type mysqlHandle struct {
	db    *sql.DB
	table string
}

func dsn(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Endpoint
	mc.DBName = cfg.Database
	mc.Timeout = 5 * time.Second
	return mc.FormatDSN()
}

func openMySQL(ctx context.Context, cfg Config) (*mysqlHandle, error) {
	db, err := sql.Open(DriverMySQL, dsn(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Endpoint, err)
	}
	table := cfg.Table
	if table == "" {
		table = "user"
	}
	return &mysqlHandle{db: db, table: table}, nil
}

func (h *mysqlHandle) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT username, passwd FROM `"+h.table+"`")
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	users := make(map[string]string)
	for rows.Next() {
		var name, pass string
		if err := rows.Scan(&name, &pass); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users[name] = pass
	}
	return users, rows.Err()
}

func (h *mysqlHandle) Lookup(ctx context.Context, user string) (string, bool, error) {
	var pass string
	err := h.db.QueryRowContext(ctx, "SELECT passwd FROM `"+h.table+"` WHERE username = ?", user).Scan(&pass)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("select user %q: %w", user, err)
	}
	return pass, true, nil
}

func (h *mysqlHandle) Insert(ctx context.Context, user, password string) error {
	_, err := h.db.ExecContext(ctx, "INSERT INTO `"+h.table+"`(username, passwd) VALUES(?, ?)", user, password)
	var merr *mysql.MySQLError
	if errors.As(err, &merr) && merr.Number == errDupEntry {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("insert user %q: %w", user, err)
	}
	return nil
}

func (h *mysqlHandle) Close() error {
	return h.db.Close()
}
