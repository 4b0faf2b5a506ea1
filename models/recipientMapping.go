package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// RecipientMapping links an accounting vendor id to a globalpay contact
// identity. AccountId caches the rail's payable account so the router does not
// re-resolve the payee on every payment; it is derived from the email, so any
// email change invalidates it (and the contact link, which was matched by the
// old email and must be re-confirmed).
type RecipientMapping struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	VendorId       string    `gorm:"size:64;not null;uniqueIndex" json:"vendorId" binding:"required"`
	PayeeName      string    `gorm:"size:255" json:"payeeName"`
	Email          string    `gorm:"size:255" json:"email"`
	ContactId      string    `gorm:"size:128" json:"contactId"`
	TargetCurrency string    `gorm:"size:8;not null" json:"targetCurrency" binding:"required"`
	AccountId      int64     `gorm:"default:0" json:"accountId"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type RecipientStore struct {
	db *gorm.DB
}

func NewRecipientStore(db *gorm.DB) *RecipientStore {
	return &RecipientStore{db: db}
}

func (s *RecipientStore) GetByVendorId(ctx context.Context, vendorId string) (*RecipientMapping, error) {
	var m RecipientMapping
	err := s.db.WithContext(ctx).Where("vendor_id = ?", vendorId).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RecipientStore) List(ctx context.Context) ([]*RecipientMapping, error) {
	var ms []*RecipientMapping
	if err := s.db.WithContext(ctx).Order("payee_name ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *RecipientStore) Create(ctx context.Context, m *RecipientMapping) error {
	err := s.db.WithContext(ctx).Create(m).Error
	if isDuplicateKeyErr(err) {
		return errors.New("a recipient mapping already exists for vendor " + m.VendorId)
	}
	return err
}

// Update persists the edited mapping. Changing the email drops the cached
// account id and the contact link; both were resolved against the old address.
func (s *RecipientStore) Update(ctx context.Context, id uint, updated *RecipientMapping) (*RecipientMapping, error) {
	var existing RecipientMapping
	if err := s.db.WithContext(ctx).First(&existing, id).Error; err != nil {
		return nil, err
	}

	emailChanged := !strings.EqualFold(strings.TrimSpace(existing.Email), strings.TrimSpace(updated.Email))

	existing.PayeeName = updated.PayeeName
	existing.Email = strings.TrimSpace(updated.Email)
	existing.TargetCurrency = updated.TargetCurrency
	if updated.ContactId != "" {
		existing.ContactId = updated.ContactId
	}
	if emailChanged {
		existing.ContactId = ""
		existing.AccountId = 0
	}

	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s *RecipientStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&RecipientMapping{}, id).Error
}

// CacheAccountId stores a freshly created payable account id on the mapping.
func (s *RecipientStore) CacheAccountId(ctx context.Context, id uint, accountId int64) error {
	return s.db.WithContext(ctx).
		Model(&RecipientMapping{}).
		Where("id = ?", id).
		Update("account_id", accountId).Error
}
