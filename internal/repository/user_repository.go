package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Proton-105/coinwatch/internal/domain"
)

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}
	return &userRepository{
		db:  db,
		log: log,
	}
}

func (r *userRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("failed to fetch user", slog.String("by", where), slog.Any("error", err))
		return nil, classify(fmt.Errorf("select user: %w", err))
	}
	return user, nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *userRepository) FindByName(ctx context.Context, name string) (*domain.User, error) {
	return r.findOne(ctx, "name = $1", name)
}

func (r *userRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return r.findOne(ctx, "telegram_id = $1", telegramID)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
		INSERT INTO users (name, password_hash, coins, is_admin, telegram_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	var telegramID sql.NullInt64
	if user.TelegramID != nil {
		telegramID = sql.NullInt64{Int64: *user.TelegramID, Valid: true}
	}

	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.PasswordHash,
		user.Coins,
		user.IsAdmin,
		telegramID,
	).Scan(&user.ID, &user.CreatedAt); err != nil {
		err = classify(fmt.Errorf("insert user: %w", err))
		if !errors.Is(err, ErrDuplicate) {
			r.log.Error("failed to create user", slog.String("name", user.Name), slog.Any("error", err))
		}
		return err
	}

	return nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id int64, name, passwordHash string) error {
	const query = `UPDATE users SET name = $1, password_hash = $2 WHERE id = $3`

	return r.execOne(ctx, query, name, passwordHash, id)
}

func (r *userRepository) SetAdmin(ctx context.Context, id int64, isAdmin bool) error {
	return r.execOne(ctx, `UPDATE users SET is_admin = $1 WHERE id = $2`, isAdmin, id)
}

func (r *userRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(fmt.Errorf("update user: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate users: %w", err))
	}

	return users, nil
}
