package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// WebhookEvent keeps an audit row per inbound provider event, with a unique
// (provider, provider_event_id) pair for deduplication. Redelivered events are
// still acknowledged to the provider; they just do not reprocess.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"providerEventId"`
	EventType       string     `gorm:"type:varchar(100);not null" json:"eventType"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"-"`
	ProcessedAt     *time.Time `gorm:"default:null" json:"processedAt,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processingError"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

type WebhookEventStore struct {
	db *gorm.DB
}

func NewWebhookEventStore(db *gorm.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

// Record inserts the event row. Returns duplicate=true when this provider
// event id was already seen.
func (s *WebhookEventStore) Record(ctx context.Context, ev *WebhookEvent) (duplicate bool, err error) {
	err = s.db.WithContext(ctx).Create(ev).Error
	if isDuplicateKeyErr(err) {
		return true, nil
	}
	return false, err
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, ev *WebhookEvent, processingError string) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]interface{}{"processed_at": &now, "processing_error": processingError}).Error
}
