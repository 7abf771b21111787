// Package store holds the external state the chat core consults: the
// member directory in PostgreSQL and the append-only transcript log in
// SQLite.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Member is one entry of the external member directory.
type Member struct {
	Name         string
	PasswordHash string
	Monitor      bool
}

// MemberDirectory validates member names and passwords for password
// access and reports the monitor privilege.
type MemberDirectory interface {
	// Authenticate returns the member when the name and password match,
	// nil when the name is unknown or the password is wrong.
	Authenticate(ctx context.Context, name, password string) (*Member, error)
	Close()
}

// PostgresDirectory is the pgx-backed member directory.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory connects to the member directory database.
func NewPostgresDirectory(ctx context.Context, databaseURL string) (*PostgresDirectory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresDirectory{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

// Authenticate looks the member up by name and verifies the password
// against its bcrypt hash.
func (d *PostgresDirectory) Authenticate(ctx context.Context, name, password string) (*Member, error) {
	m := &Member{}
	err := d.pool.QueryRow(ctx, `
		SELECT name, password_hash, monitor
		FROM members WHERE name = $1
	`, name).Scan(&m.Name, &m.PasswordHash, &m.Monitor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return m, nil
}
