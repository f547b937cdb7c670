package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Proton-105/coinwatch/internal/domain"
)

type videoRepository struct {
	db *sql.DB
}

// NewVideoRepository creates a read model over submitted videos.
func NewVideoRepository(db *sql.DB) VideoRepository {
	return &videoRepository{db: db}
}

func (r *videoRepository) FindByID(ctx context.Context, id int64) (*domain.Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	video, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(fmt.Errorf("select video: %w", err))
	}
	return video, nil
}

func (r *videoRepository) List(ctx context.Context, status domain.VideoStatus) ([]domain.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("list videos: %w", err))
	}
	defer rows.Close()

	videos := make([]domain.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, *video)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate videos: %w", err))
	}

	return videos, nil
}

func (r *videoRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM videos GROUP BY status`)
	if err != nil {
		return nil, classify(fmt.Errorf("count videos: %w", err))
	}
	defer rows.Close()

	counts := map[string]int64{
		string(domain.VideoPending):  0,
		string(domain.VideoApproved): 0,
		string(domain.VideoRejected): 0,
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan video count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate video counts: %w", err))
	}

	return counts, nil
}
