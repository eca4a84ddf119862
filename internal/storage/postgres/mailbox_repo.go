package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/kundi/internal/mailbox"
)

// MailboxRepository implements mailbox.Store with GORM.
type MailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a MailboxRepository.
func NewMailboxRepository(db *gorm.DB) *MailboxRepository {
	return &MailboxRepository{db: db}
}

func (r *MailboxRepository) Append(ctx context.Context, msg *mailbox.Message) error {
	model := toMessageModel(msg)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending mailbox message: %w", err)
	}
	return nil
}

// ReceiveUnread claims up to max unread messages for the agent. Candidates
// are loaded in delivery order, then each is claimed with a conditional
// UPDATE on read_at IS NULL. A row a concurrent receiver claimed first
// fails its claim and is silently skipped, so no message is delivered twice.
func (r *MailboxRepository) ReceiveUnread(ctx context.Context, agentID string, max int) ([]mailbox.Message, error) {
	var candidates []MessageModel
	if err := r.db.WithContext(ctx).
		Where("to_agent = ? AND read_at IS NULL", agentID).
		Order("priority DESC, created_at ASC").
		Limit(max).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("loading unread messages for %s: %w", agentID, err)
	}

	now := time.Now().UTC()
	var claimed []mailbox.Message
	for i := range candidates {
		result := r.db.WithContext(ctx).
			Model(&MessageModel{}).
			Where("id = ? AND read_at IS NULL", candidates[i].ID).
			Update("read_at", now)
		if result.Error != nil {
			return claimed, fmt.Errorf("claiming message %s: %w", candidates[i].ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		msg := toMessageDomain(&candidates[i])
		readAt := now
		msg.ReadAt = &readAt
		claimed = append(claimed, *msg)
	}
	return claimed, nil
}

func (r *MailboxRepository) UnreadCount(ctx context.Context, agentID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("to_agent = ? AND read_at IS NULL", agentID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting unread messages for %s: %w", agentID, err)
	}
	return int(count), nil
}

func (r *MailboxRepository) ListByAgent(ctx context.Context, agentID string) ([]mailbox.Message, error) {
	var models []MessageModel
	if err := r.db.WithContext(ctx).
		Where("to_agent = ?", agentID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", agentID, err)
	}
	msgs := make([]mailbox.Message, len(models))
	for i := range models {
		msgs[i] = *toMessageDomain(&models[i])
	}
	return msgs, nil
}

// Compile-time check.
var _ mailbox.Store = (*MailboxRepository)(nil)
