package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sujalbistaa/trustdesk/internal/db"
	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/models"
)

// Audit actions.
const (
	ActionClaim   = "claim"
	ActionRelease = "release"
)

// QueueSort orders a queue listing.
type QueueSort string

const (
	SortPriority    QueueSort = "priority"
	SortNewest      QueueSort = "newest"
	SortOldest      QueueSort = "oldest"
	SortMostFlagged QueueSort = "most_flagged"
)

// ParseQueueSort accepts the supported orders; empty means priority.
func ParseQueueSort(s string) (QueueSort, bool) {
	switch q := QueueSort(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return SortPriority, true
	case SortPriority, SortNewest, SortOldest, SortMostFlagged:
		return q, true
	default:
		return "", false
	}
}

// ListFilter narrows a queue listing. Zero values mean no filter.
type ListFilter struct {
	Status     models.QueueStatus
	Priority   models.Priority
	Reason     models.FlagReason
	AssignedTo string
	Sort       QueueSort
	Limit      int
}

// AttachDetection stores the detector snapshot on the post's open item, or
// opens a detector-sourced item when the risk score reaches the proactive
// review threshold. It returns nil when no item is involved.
func (s *Service) AttachDetection(ctx context.Context, v models.SpamVerdict) (*models.QueueItem, error) {
	unlock := s.locks.Lock(v.PostID)
	defer unlock()

	var (
		item   models.QueueItem
		found  bool
		opened bool
	)
	attempt := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			found, opened = false, false
			err := tx.Where("open_key = ?", v.PostID).First(&item).Error
			switch {
			case err == nil:
				found = true
				applyVerdict(&item, v)
				setPriority(&item)
				return tx.Omit(clause.Associations).Save(&item).Error
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("load open queue item: %w", err)
			}

			if v.RiskScore < s.cfg.ProactiveReviewThreshold {
				return nil
			}
			now := s.now()
			key := v.PostID
			item = models.QueueItem{
				ID:             uuid.NewString(),
				PostID:         v.PostID,
				Source:         models.SourceDetector,
				Status:         models.QueuePending,
				FirstFlaggedAt: now,
				LastFlaggedAt:  now,
				OpenKey:        &key,
			}
			applyVerdict(&item, v)
			setPriority(&item)
			found, opened = true, true
			return tx.Omit(clause.Associations).Create(&item).Error
		})
	}

	err := attempt()
	if db.IsUniqueViolation(err) {
		err = attempt()
	}
	if err != nil {
		return nil, fmt.Errorf("attach detection: %w", err)
	}
	if !found {
		return nil, nil
	}

	if opened {
		s.log.WithFields(logging.Fields{
			"post_id": v.PostID, "queue_item_id": item.ID, "risk_score": v.RiskScore,
		}).Info("Opened proactive review item")
		s.notifier.Notify(models.EventQueueItemOpened, item)
	} else {
		s.notifier.Notify(models.EventQueueItemUpdated, item)
	}
	return &item, nil
}

// Get loads a queue item with its flags in submission order.
func (s *Service) Get(ctx context.Context, id string) (models.QueueItem, error) {
	return s.load(s.db.WithContext(ctx), id)
}

func (s *Service) load(tx *gorm.DB, id string) (models.QueueItem, error) {
	var item models.QueueItem
	err := tx.Preload("Flags", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at").Order("id")
	}).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item, errs.NotFound("moderation.get", "queue item %s", id)
	}
	if err != nil {
		return item, fmt.Errorf("load queue item: %w", err)
	}
	return item, nil
}

// List returns queue items in the filter's order. The default puts high
// priority first, then the oldest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.QueueItem, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultListLimit
	}
	if limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}

	q := s.db.WithContext(ctx).Model(&models.QueueItem{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.Reason != "" {
		q = q.Where("id IN (?)", s.db.Model(&models.Flag{}).Select("queue_item_id").Where("reason = ?", f.Reason))
	}

	switch f.Sort {
	case SortNewest:
		q = q.Order("first_flagged_at DESC")
	case SortOldest:
		q = q.Order("first_flagged_at ASC")
	case SortMostFlagged:
		q = q.Order("total_flags DESC").Order("first_flagged_at ASC")
	default:
		q = q.Order("priority_rank DESC").Order("first_flagged_at ASC")
	}

	var items []models.QueueItem
	err := q.Preload("Flags", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at").Order("id")
	}).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return items, nil
}

// Claim moves a pending item to in_review for one moderator.
func (s *Service) Claim(ctx context.Context, id, moderatorID string) (models.QueueItem, error) {
	const op = "moderation.claim"
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return models.QueueItem{}, errs.Validation(op, "moderatorId is required")
	}

	var item models.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", id, models.QueuePending).
			Updates(map[string]interface{}{
				"status":      models.QueueInReview,
				"assigned_to": moderatorID,
				"updated_at":  s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("claim queue item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return s.transitionError(tx, op, id, "claimed")
		}
		if err := tx.Model(&models.Flag{}).
			Where("queue_item_id = ? AND status = ?", id, models.FlagPending).
			Update("status", models.FlagReviewed).Error; err != nil {
			return fmt.Errorf("mark flags reviewed: %w", err)
		}
		var err error
		if item, err = s.load(tx, id); err != nil {
			return err
		}
		return s.audit(tx, item, moderatorID, ActionClaim)
	})
	if err != nil {
		return models.QueueItem{}, err
	}

	s.notifier.Notify(models.EventQueueItemUpdated, item)
	return item, nil
}

// Release hands an in_review item back to the pending pool. Only the
// assigned moderator may release it.
func (s *Service) Release(ctx context.Context, id, moderatorID string) (models.QueueItem, error) {
	const op = "moderation.release"
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return models.QueueItem{}, errs.Validation(op, "moderatorId is required")
	}

	var item models.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status = ? AND assigned_to = ?", id, models.QueueInReview, moderatorID).
			Updates(map[string]interface{}{
				"status":      models.QueuePending,
				"assigned_to": "",
				"updated_at":  s.now(),
			})
		if res.Error != nil {
			return fmt.Errorf("release queue item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return s.transitionError(tx, op, id, "released by "+moderatorID)
		}
		var err error
		if item, err = s.load(tx, id); err != nil {
			return err
		}
		return s.audit(tx, item, moderatorID, ActionRelease)
	})
	if err != nil {
		return models.QueueItem{}, err
	}

	s.notifier.Notify(models.EventQueueItemUpdated, item)
	return item, nil
}

// Resolve closes an open item with an outcome and cascades to its flags and
// the author's trust profile in the same transaction. Resolving a closed
// item, or losing a race to another moderator, is an invalid state.
func (s *Service) Resolve(ctx context.Context, id, outcome, moderatorID string) (models.QueueItem, error) {
	const op = "moderation.resolve"
	out, ok := models.ParseOutcome(outcome)
	if !ok {
		return models.QueueItem{}, errs.Validation(op, "outcome %q must be approved or removed", outcome)
	}
	moderatorID = strings.TrimSpace(moderatorID)
	if moderatorID == "" {
		return models.QueueItem{}, errs.Validation(op, "moderatorId is required")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return models.QueueItem{}, err
	}
	unlock := s.locks.Lock(current.PostID)
	defer unlock()
	if !current.Open() {
		return models.QueueItem{}, errs.InvalidState(op, "queue item %s is already resolved", id)
	}
	author := s.authorOf(ctx, current)

	flagStatus := models.FlagDismissed
	if out == models.OutcomeRemoved {
		flagStatus = models.FlagActioned
	}

	var item models.QueueItem
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		updates := map[string]interface{}{
			"status":      models.QueueResolved,
			"outcome":     out,
			"resolved_by": moderatorID,
			"resolved_at": now,
			"open_key":    nil,
			"updated_at":  now,
		}
		if author != "" {
			updates["author_id"] = author
		}
		res := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status IN ?", id, []models.QueueStatus{models.QueuePending, models.QueueInReview}).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("resolve queue item: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.InvalidState(op, "queue item %s was already handled", id)
		}

		if err := tx.Model(&models.Flag{}).
			Where("queue_item_id = ?", id).
			Updates(map[string]interface{}{"status": flagStatus, "active_key": nil, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("close flags: %w", err)
		}

		// Reload inside the transaction so the penalty uses the latest detector snapshot.
		var err error
		if item, err = s.load(tx, id); err != nil {
			return err
		}
		if author == "" {
			author = item.AuthorID
		}
		if author != "" {
			if _, err := s.trust.ApplyResolution(tx, author, id, out, item.AIRiskLevel); err != nil {
				return err
			}
		} else {
			s.log.WithField("queue_item_id", id).Warn("Author unknown, skipping trust adjustment")
		}
		return s.audit(tx, item, moderatorID, string(out))
	})
	if err != nil {
		return models.QueueItem{}, err
	}

	s.log.WithFields(logging.Fields{
		"queue_item_id": id, "post_id": item.PostID, "outcome": out, "moderator_id": moderatorID,
	}).Info("Queue item resolved")
	s.notifier.Notify(models.EventQueueItemResolved, item)
	if out == models.OutcomeRemoved {
		s.notifier.Notify(models.EventPostRemoved, map[string]string{"postId": item.PostID, "queueItemId": item.ID})
	}
	return item, nil
}

// Actions returns the audit trail of a queue item, oldest first.
func (s *Service) Actions(ctx context.Context, id string) ([]models.ModerationAction, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var actions []models.ModerationAction
	if err := s.db.WithContext(ctx).
		Where("queue_item_id = ?", id).
		Order("created_at").Order("id").
		Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("list moderation actions: %w", err)
	}
	return actions, nil
}

// authorOf resolves the author: queue item, then stored verdict, then the
// content store. Empty means unknown.
func (s *Service) authorOf(ctx context.Context, item models.QueueItem) string {
	if item.AuthorID != "" {
		return item.AuthorID
	}
	var v models.SpamVerdict
	if err := s.db.WithContext(ctx).Select("author_id").First(&v, "post_id = ?", item.PostID).Error; err == nil && v.AuthorID != "" {
		return v.AuthorID
	}
	if s.authors == nil {
		return ""
	}
	author, err := s.authors(ctx, item.PostID)
	if err != nil {
		s.log.WithError(err).WithField("post_id", item.PostID).Warn("Author lookup failed")
		return ""
	}
	return author
}

func (s *Service) transitionError(tx *gorm.DB, op, id, verb string) error {
	item, err := s.load(tx, id)
	if err != nil {
		return err
	}
	return errs.InvalidState(op, "queue item %s is %s and cannot be %s", id, item.Status, verb)
}

func (s *Service) audit(tx *gorm.DB, item models.QueueItem, moderatorID, action string) error {
	a := models.ModerationAction{
		QueueItemID: item.ID,
		PostID:      item.PostID,
		ModeratorID: moderatorID,
		Action:      action,
		CreatedAt:   s.now(),
	}
	if err := tx.Create(&a).Error; err != nil {
		return fmt.Errorf("record moderation action: %w", err)
	}
	return nil
}
