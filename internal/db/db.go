package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create users: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS mail_accounts (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			email        TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create mail_accounts: %w", err)
	}

	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_mail_accounts_user_id ON mail_accounts(user_id)`); err != nil {
		return fmt.Errorf("index mail_accounts: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create refresh_tokens: %w", err)
	}

	return nil
}

func (d *DB) CreateUser(username, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	_, err := d.sql.Exec(
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)",
		u.ID, u.Username, u.PasswordHash, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (d *DB) GetUserByUsername(username string) (*User, error) {
	row := d.sql.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username)
	return scanUser(row)
}

func (d *DB) GetUser(id string) (*User, error) {
	row := d.sql.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (d *DB) UpdateUserPassword(id, passwordHash string) error {
	_, err := d.sql.Exec("UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	return err
}

func (d *DB) CreateMailAccount(userID, email, displayName string) (*MailAccount, error) {
	a := &MailAccount{
		ID:          uuid.NewString(),
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	_, err := d.sql.Exec(
		"INSERT INTO mail_accounts (id, user_id, email, display_name, created_at) VALUES (?,?,?,?,?)",
		a.ID, a.UserID, a.Email, a.DisplayName, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d *DB) GetMailAccount(id string) (*MailAccount, error) {
	row := d.sql.QueryRow(`
		SELECT id, user_id, email, display_name, created_at
		FROM mail_accounts WHERE id = ?`, id)
	return scanMailAccount(row)
}

func (d *DB) GetMailAccountsByUser(userID string) ([]*MailAccount, error) {
	rows, err := d.sql.Query(`
		SELECT id, user_id, email, display_name, created_at
		FROM mail_accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []*MailAccount
	for rows.Next() {
		a, err := scanMailAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (d *DB) SaveRefreshToken(token, userID string, expiresAt time.Time) error {
	_, err := d.sql.Exec(
		"INSERT OR REPLACE INTO refresh_tokens (token, user_id, expires_at, created_at) VALUES (?,?,?,?)",
		token, userID, expiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	return err
}

func (d *DB) GetRefreshToken(token string) (*RefreshToken, error) {
	var t RefreshToken
	var expiresAt, createdAt int64
	err := d.sql.QueryRow(
		"SELECT token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = ?", token,
	).Scan(&t.Token, &t.UserID, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = time.UnixMilli(expiresAt)
	t.CreatedAt = time.UnixMilli(createdAt)
	return &t, nil
}

func (d *DB) DeleteRefreshToken(token string) error {
	_, err := d.sql.Exec("DELETE FROM refresh_tokens WHERE token = ?", token)
	return err
}

func (d *DB) DeleteRefreshTokensByUser(userID string) error {
	_, err := d.sql.Exec("DELETE FROM refresh_tokens WHERE user_id = ?", userID)
	return err
}

// DeleteExpiredRefreshTokens removes tokens past their expiry and reports
// how many were deleted.
func (d *DB) DeleteExpiredRefreshTokens() (int64, error) {
	res, err := d.sql.Exec(
		"DELETE FROM refresh_tokens WHERE expires_at < ?", time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(createdAt)
	return &u, nil
}

func scanMailAccount(row rowScanner) (*MailAccount, error) {
	var a MailAccount
	var createdAt int64
	if err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.DisplayName, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	return &a, nil
}
