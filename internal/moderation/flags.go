package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/trustdesk/internal/db"
	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
)

// FlagInput is a raw flag submission.
type FlagInput struct {
	PostID      string `json:"postId"`
	ReporterID  string `json:"reporterId"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func activeKey(postID, reporterID string) *string {
	k := postID + "|" + reporterID
	return &k
}

func (s *Service) validateFlag(in FlagInput) (FlagInput, models.FlagReason, error) {
	const op = "moderation.submit_flag"
	in.PostID = strings.TrimSpace(in.PostID)
	in.ReporterID = strings.TrimSpace(in.ReporterID)
	in.Description = strings.TrimSpace(in.Description)

	if in.PostID == "" {
		return in, "", errs.Validation(op, "postId is required")
	}
	if in.ReporterID == "" {
		return in, "", errs.Validation(op, "reporterId is required")
	}
	reason, ok := models.ParseFlagReason(in.Reason)
	if !ok {
		return in, "", errs.Validation(op, "reason %q must be one of spam, misinformation, harassment, other", in.Reason)
	}
	if n := utf8.RuneCountInString(in.Description); n > s.cfg.MaxDescriptionRunes {
		return in, "", errs.Validation(op, "description is %d characters, limit is %d", n, s.cfg.MaxDescriptionRunes)
	}
	return in, reason, nil
}

// SubmitFlag records a flag and folds it into the post's open queue item.
// A repeat submission by the same reporter updates the active flag; created
// reports whether a new flag row was inserted.
func (s *Service) SubmitFlag(ctx context.Context, in FlagInput) (models.Flag, bool, error) {
	in, reason, err := s.validateFlag(in)
	if err != nil {
		return models.Flag{}, false, err
	}

	unlock := s.locks.Lock(in.PostID)
	defer unlock()

	var (
		flag    models.Flag
		item    models.QueueItem
		created bool
		opened  bool
	)
	attempt := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if item, opened, err = s.openItemForFlag(tx, in.PostID); err != nil {
				return err
			}
			if flag, created, err = s.upsertFlag(tx, item, in, reason); err != nil {
				return err
			}
			return s.foldFlag(tx, &item)
		})
	}

	err = attempt()
	if db.IsUniqueViolation(err) {
		// Another process won the insert; the retry sees its row.
		err = attempt()
	}
	if err != nil {
		if errs.KindOf(err) != errs.KindUnknown {
			return models.Flag{}, false, err
		}
		return models.Flag{}, false, fmt.Errorf("submit flag: %w", err)
	}

	s.log.WithFields(logging.Fields{
		"post_id": in.PostID, "reporter_id": in.ReporterID, "queue_item_id": item.ID,
		"created": created, "unique_reporters": item.UniqueReporters, "priority": item.Priority,
	}).Info("Flag accepted")

	if opened {
		s.notifier.Notify(models.EventQueueItemOpened, item)
	} else {
		s.notifier.Notify(models.EventQueueItemUpdated, item)
	}
	return flag, created, nil
}

// openItemForFlag returns the post's open item, creating one if needed.
func (s *Service) openItemForFlag(tx *gorm.DB, postID string) (models.QueueItem, bool, error) {
	var item models.QueueItem
	err := tx.Where("open_key = ?", postID).First(&item).Error
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return item, false, fmt.Errorf("load open queue item: %w", err)
	}

	now := s.now()
	key := postID
	item = models.QueueItem{
		ID:             uuid.NewString(),
		PostID:         postID,
		Source:         models.SourceFlag,
		Status:         models.QueuePending,
		FirstFlaggedAt: now,
		LastFlaggedAt:  now,
		OpenKey:        &key,
	}

	var verdict models.SpamVerdict
	err = tx.First(&verdict, "post_id = ?", postID).Error
	switch {
	case err == nil:
		applyVerdict(&item, verdict)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return item, false, fmt.Errorf("load spam verdict: %w", err)
	}

	setPriority(&item)
	if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
		return item, false, err
	}
	return item, true, nil
}

func (s *Service) upsertFlag(tx *gorm.DB, item models.QueueItem, in FlagInput, reason models.FlagReason) (models.Flag, bool, error) {
	key := activeKey(in.PostID, in.ReporterID)

	var flag models.Flag
	err := tx.Where("active_key = ?", *key).First(&flag).Error
	if err == nil {
		flag.Reason = reason
		flag.Description = in.Description
		flag.SubmissionCount++
		flag.UpdatedAt = s.now()
		if err := tx.Save(&flag).Error; err != nil {
			return flag, false, fmt.Errorf("update flag: %w", err)
		}
		return flag, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return flag, false, fmt.Errorf("load active flag: %w", err)
	}

	now := s.now()
	flag = models.Flag{
		ID:              uuid.NewString(),
		PostID:          in.PostID,
		ReporterID:      in.ReporterID,
		QueueItemID:     item.ID,
		Reason:          reason,
		Description:     in.Description,
		Status:          models.FlagPending,
		SubmissionCount: 1,
		ActiveKey:       key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.Create(&flag).Error; err != nil {
		return flag, false, err
	}
	return flag, true, nil
}

// foldFlag counts the accepted submission on the item and re-derives priority.
func (s *Service) foldFlag(tx *gorm.DB, item *models.QueueItem) error {
	var reporters int64
	if err := tx.Model(&models.Flag{}).
		Where("queue_item_id = ?", item.ID).
		Distinct("reporter_id").
		Count(&reporters).Error; err != nil {
		return fmt.Errorf("count reporters: %w", err)
	}

	item.TotalFlags++
	item.UniqueReporters = int(reporters)
	item.LastFlaggedAt = s.now()
	setPriority(item)

	if err := tx.Omit(clause.Associations).Save(item).Error; err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	return nil
}

// ListFlags returns every flag ever filed against a post, oldest first.
func (s *Service) ListFlags(ctx context.Context, postID string) ([]models.Flag, error) {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return nil, errs.Validation("moderation.list_flags", "postId is required")
	}
	var flags []models.Flag
	if err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at").Order("id").
		Find(&flags).Error; err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	return flags, nil
}
