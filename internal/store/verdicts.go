// Package store persists the per-post evaluation results.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/trustdesk/internal/models"
)

// Verdicts reads and replaces post credibility scores and spam verdicts.
type Verdicts struct {
	db *gorm.DB
}

func NewVerdicts(db *gorm.DB) *Verdicts {
	return &Verdicts{db: db}
}

// Credibility returns the stored score of a post; ok is false when none exists.
func (v *Verdicts) Credibility(ctx context.Context, postID string) (models.PostCredibility, bool, error) {
	var c models.PostCredibility
	err := v.db.WithContext(ctx).First(&c, "post_id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("load credibility: %w", err)
	}
	return c, true, nil
}

// Spam returns the stored verdict of a post; ok is false when none exists.
func (v *Verdicts) Spam(ctx context.Context, postID string) (models.SpamVerdict, bool, error) {
	var s models.SpamVerdict
	err := v.db.WithContext(ctx).First(&s, "post_id = ?", postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("load spam verdict: %w", err)
	}
	return s, true, nil
}

// Save replaces both rows of a post in one transaction. Concurrent saves of
// the same post are last-write-wins.
func (v *Verdicts) Save(ctx context.Context, c models.PostCredibility, s models.SpamVerdict) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&c).Error; err != nil {
			return fmt.Errorf("save credibility: %w", err)
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&s).Error; err != nil {
			return fmt.Errorf("save spam verdict: %w", err)
		}
		return nil
	})
}
