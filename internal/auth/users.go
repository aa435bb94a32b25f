package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"compliance-backend/internal/db"
)

var (
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

type Users struct {
	db   *db.DB
	cost int
	now  func() time.Time
}

func NewUsers(d *db.DB) *Users {
	return &Users{db: d, cost: bcrypt.DefaultCost, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores a new user with a bcrypt-hashed password.
func (u *Users) Create(ctx context.Context, email, password string) (int, error) {
	email = normalizeEmail(email)

	var exists int
	if err := u.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = $1`, email).Scan(&exists); err != nil {
		return 0, fmt.Errorf("checking email: %w", err)
	}
	if exists > 0 {
		return 0, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), u.cost)
	if err != nil {
		return 0, fmt.Errorf("hashing password: %w", err)
	}

	var id int
	err = u.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, email, string(hash), u.now().UTC().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	return id, nil
}

func (u *Users) Authenticate(ctx context.Context, email, password string) (int, error) {
	var (
		id   int
		hash string
	)
	err := u.db.QueryRowContext(ctx, `SELECT id, password FROM users WHERE email = $1`, normalizeEmail(email)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, fmt.Errorf("loading user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

func (u *Users) Email(ctx context.Context, id int) (string, error) {
	var email string
	err := u.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading user: %w", err)
	}
	return email, nil
}

// Delete removes the user row. cleanup runs inside the same transaction
// before the row is deleted.
func (u *Users) Delete(ctx context.Context, id int, cleanup ...func(context.Context, *db.Tx, int) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, fn := range cleanup {
		if err := fn(ctx, tx, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db commit failed: %w", err)
	}
	return nil
}
