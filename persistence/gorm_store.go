package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps sessions in a SQL database. Artifacts are append-only
// rows; Update inserts the ones not yet stored.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps a gorm connection. The connection is owned by the
// caller and is not closed by Close.
func NewGormStore(ctx context.Context, db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GormStore{db: db, logger: logger.With(zap.String("component", "sql_session_store"))}
	if autoMigrate {
		if err := s.AutoMigrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AutoMigrate creates or updates the session tables.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&SessionModel{}, &ArtifactModel{}, &ReviewModel{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, id string) (*session.Session, error) {
	sess := newSession(id)
	model, err := toSessionModel(sess)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(model)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyExists
	}
	return sess, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var artifacts []ArtifactModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("seq ASC").Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	return fromSessionModel(&model, artifacts)
}

func (s *GormStore) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	model, err := toSessionModel(sess)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SessionModel{}).Where("id = ?", sess.ID).Select("*").Omit("id").Updates(model)
		if res.Error != nil {
			return fmt.Errorf("failed to update session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&SessionModel{}).Where("id = ?", sess.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to update session: %w", err)
			}
			if count == 0 {
				return ErrNotFound
			}
		}

		if len(sess.Artifacts) == 0 {
			return nil
		}
		rows := make([]ArtifactModel, 0, len(sess.Artifacts))
		reviews := make([]ReviewModel, 0)
		for i, a := range sess.Artifacts {
			row, err := toArtifactModel(sess.ID, i, a)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			if r, ok := toReviewModel(sess.ID, a); ok {
				reviews = append(reviews, r)
			}
		}
		// Artifacts are immutable, so existing rows are left as they are.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to save artifacts: %w", err)
		}
		if len(reviews) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reviews).Error; err != nil {
				return fmt.Errorf("failed to save reviews: %w", err)
			}
		}
		return nil
	})
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&SessionModel{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("session_id = ?", id).Delete(&ReviewModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete reviews: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&ArtifactModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete artifacts: %w", err)
		}
		return nil
	})
}

func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]*session.Session, error) {
	q := s.db.WithContext(ctx).Model(&SessionModel{}).Order("started_at DESC").Order("id ASC")
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q = q.Where("state IN ?", states)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite and MySQL reject OFFSET without LIMIT.
			q = q.Limit(-1)
		}
		q = q.Offset(filter.Offset)
	}

	var models []SessionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(models) == 0 {
		return []*session.Session{}, nil
	}

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	var artifacts []ArtifactModel
	if err := s.db.WithContext(ctx).Where("session_id IN ?", ids).Order("seq ASC").Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	bySession := make(map[string][]ArtifactModel, len(models))
	for _, a := range artifacts {
		bySession[a.SessionID] = append(bySession[a.SessionID], a)
	}

	out := make([]*session.Session, 0, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i], bySession[models[i].ID])
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// ReviewScores returns the indexed review rows of a session in iteration order.
func (s *GormStore) ReviewScores(ctx context.Context, sessionID string) ([]ReviewModel, error) {
	var rows []ReviewModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("iteration ASC").Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	return rows, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error { return nil }
