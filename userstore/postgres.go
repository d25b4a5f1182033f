package userstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leafcart/storeauth"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, role, is_admin, created_at`

// PoolConfig sizes the connection pool opened by [Connect].
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Connect opens and pings a pgx pool for databaseURL.
func Connect(ctx context.Context, databaseURL string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Info("database connected", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return pool, nil
}

// Postgres stores users in a PostgreSQL table named users.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the users table and its case-insensitive email index
// when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply users schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (storeauth.UserRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email))
	u, err := scanUser(row)
	if err != nil {
		return storeauth.UserRecord{}, fmt.Errorf("find user by email: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUserByID(ctx context.Context, userID string) (storeauth.UserRecord, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return storeauth.UserRecord{}, storeauth.ErrUserNotFound
	}
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if err != nil {
		return storeauth.UserRecord{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, in storeauth.CreateUserInput) (storeauth.UserRecord, error) {
	u := storeauth.UserRecord{
		UserID:       uuid.NewString(),
		Email:        strings.ToLower(in.Email),
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		u.UserID, u.Email, u.Name, u.PasswordHash, u.Role, u.IsAdmin, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storeauth.UserRecord{}, storeauth.ErrAccountExists
		}
		return storeauth.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeauth.ErrUserNotFound
	}
	return nil
}

// SetAdmin grants or removes the admin role.
func (p *Postgres) SetAdmin(ctx context.Context, userID string, admin bool) error {
	role := storeauth.RoleCustomer
	if admin {
		role = storeauth.RoleAdmin
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET is_admin = $2, role = $3, updated_at = $4 WHERE id = $1`,
		userID, admin, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storeauth.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (storeauth.UserRecord, error) {
	var u storeauth.UserRecord
	err := row.Scan(&u.UserID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storeauth.UserRecord{}, storeauth.ErrUserNotFound
	}
	if err != nil {
		return storeauth.UserRecord{}, err
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ storeauth.UserProvider = (*Postgres)(nil)
