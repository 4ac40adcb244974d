package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
  user_id    VARCHAR(128) NOT NULL PRIMARY KEY,
  username   VARCHAR(255) NOT NULL,
  email      VARCHAR(255) NOT NULL,
  provider   VARCHAR(64)  NOT NULL,
  created_at DATETIME(6)  NOT NULL
);
CREATE TABLE IF NOT EXISTS xray_analyses (
  id          VARCHAR(64)  NOT NULL PRIMARY KEY,
  user_id     VARCHAR(128) NOT NULL,
  session_id  VARCHAR(64)  NOT NULL,
  file_name   VARCHAR(255) NOT NULL,
  result_json JSON         NOT NULL,
  created_at  DATETIME(6)  NOT NULL,
  INDEX idx_xray_analyses_user (user_id, created_at)
);
CREATE TABLE IF NOT EXISTS xray_upload_failures (
  id           BIGINT AUTO_INCREMENT PRIMARY KEY,
  user_id      VARCHAR(128) NOT NULL,
  session_id   VARCHAR(64)  NOT NULL,
  attempt      INT          NOT NULL,
  file_name    VARCHAR(255) NOT NULL,
  kind         VARCHAR(32)  NOT NULL,
  status_code  INT          NOT NULL,
  message      TEXT         NOT NULL,
  details_json JSON         NOT NULL,
  created_at   DATETIME(6)  NOT NULL,
  INDEX idx_xray_upload_failures_session (user_id, session_id, created_at)
);`

// Migrate creates the tables when missing. Statements run one by one since
// the driver rejects multi-statement Exec unless the DSN enables it.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
