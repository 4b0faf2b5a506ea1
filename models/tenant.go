package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const DefaultProvingPeriodHours = 24

// TenantSettings holds the per-tenant payout configuration. Rows are seeded by
// migration; the proving period is the only knob operators tune in practice.
type TenantSettings struct {
	ID                 uint        `gorm:"primary_key" json:"id"`
	Code               string      `gorm:"size:8;not null;uniqueIndex" json:"code"`
	Rail               PaymentRail `gorm:"size:16;not null" json:"rail"`
	ProvingPeriodHours int         `gorm:"not null;default:24" json:"provingPeriodHours"`
	SourceCurrency     string      `gorm:"size:8;not null;default:'USD'" json:"sourceCurrency"`
	CreatedAt          time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

type TenantStore struct {
	db *gorm.DB
}

func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

func (s *TenantStore) Get(ctx context.Context, code string) (*TenantSettings, error) {
	return GetTenantSettings(ctx, s.db, code)
}

func GetTenantSettings(ctx context.Context, db *gorm.DB, code string) (*TenantSettings, error) {
	var t TenantSettings
	err := db.WithContext(ctx).Where("code = ?", code).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rail, rerr := RailForTenant(code)
		if rerr != nil {
			return nil, rerr
		}
		return &TenantSettings{
			Code:               code,
			Rail:               rail,
			ProvingPeriodHours: DefaultProvingPeriodHours,
			SourceCurrency:     "USD",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if t.ProvingPeriodHours <= 0 {
		t.ProvingPeriodHours = DefaultProvingPeriodHours
	}
	return &t, nil
}
