package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentRecord is the system of record for "has this bill been paid".
// Created exactly once per successful execution attempt and never deleted.
// The unique index on (tenant_code, source_bill_id) is what actually closes
// the duplicate-execution race; the pre-execution control is advisory.
type PaymentRecord struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	TenantCode        string          `gorm:"size:8;not null;uniqueIndex:ux_payment_records_tenant_bill,priority:1" json:"tenantCode"`
	SourceBillId      string          `gorm:"size:64;not null;uniqueIndex:ux_payment_records_tenant_bill,priority:2" json:"sourceBillId"`
	VendorId          string          `gorm:"size:64" json:"vendorId"`
	PayeeName         string          `gorm:"size:255" json:"payeeName"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Status            PayoutStatus    `gorm:"type:enum('queued','processing','paid','failed');default:queued" json:"status"`
	Rail              PaymentRail     `gorm:"size:16;not null" json:"rail"`
	PaymentRef        string          `gorm:"size:64;index" json:"paymentRef"`
	ProviderPaymentId string          `gorm:"size:128;index" json:"providerPaymentId"`
	ProcessDate       *time.Time      `gorm:"default:null" json:"processDate"`
	ExecutedBy        string          `gorm:"size:255" json:"executedBy"`
	FailureReason     string          `gorm:"type:text" json:"failureReason"`
	ControlsSnapshot  []byte          `gorm:"type:json" json:"-"`
	ExecutedAt        *time.Time      `gorm:"default:null" json:"executedAt"`
	PaidAt            *time.Time      `gorm:"default:null" json:"paidAt"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (r *PaymentRecord) SetControlsSnapshot(results *ControlCheckResults) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	r.ControlsSnapshot = raw
	return nil
}

var ErrDuplicatePayment = errors.New("a payment record already exists for this bill")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

type PayoutStore struct {
	db *gorm.DB
}

func NewPayoutStore(db *gorm.DB) *PayoutStore {
	return &PayoutStore{db: db}
}

// Create inserts the record, converting the unique-index violation into
// ErrDuplicatePayment so callers can reject the second of two racing
// executions with a domain error instead of a bare SQL error.
func (s *PayoutStore) Create(ctx context.Context, rec *PaymentRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicatePayment
	}
	return err
}

// Save persists in-place mutations made by the router (execution outcome on a
// record it created, or a re-executed prior failed attempt).
func (s *PayoutStore) Save(ctx context.Context, rec *PaymentRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *PayoutStore) FindByBillId(ctx context.Context, tenantCode, billId string) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := s.db.WithContext(ctx).
		Where("tenant_code = ? AND source_bill_id = ?", tenantCode, billId).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasSettledPayment backs the notAlreadyPaid control: only a prior `paid`
// record blocks; a failed attempt may be retried.
func (s *PayoutStore) HasSettledPayment(ctx context.Context, tenantCode, billId string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("tenant_code = ? AND source_bill_id = ? AND status = ?", tenantCode, billId, PayoutStatusPaid).
		Count(&count).Error
	return count > 0, err
}

// FindByProviderRef locates a record by a rail-assigned id. Identifiers can
// surface under provider_payment_id or payment_ref depending on which part of
// the flow created the record, so both correlation fields are tried.
func (s *PayoutStore) FindByProviderRef(ctx context.Context, rail PaymentRail, providerId string) (*PaymentRecord, error) {
	if providerId == "" {
		return nil, nil
	}
	var rec PaymentRecord
	err := s.db.WithContext(ctx).
		Where("rail = ? AND (provider_payment_id = ? OR payment_ref = ?)", rail, providerId, providerId).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ApplyStatus applies a provider-reported status transition. Reapplying the
// state the record is already in is a no-op and must not touch updated_at.
func (s *PayoutStore) ApplyStatus(ctx context.Context, rec *PaymentRecord, status PayoutStatus, failureReason string) error {
	if rec.Status == status {
		return nil
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	update := map[string]interface{}{"status": status}
	now := time.Now()
	switch status {
	case PayoutStatusPaid:
		update["paid_at"] = &now
		update["failure_reason"] = ""
	case PayoutStatusFailed:
		update["failure_reason"] = failureReason
	}

	err := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("id = ?", rec.ID).
		Updates(update).Error
	if err != nil {
		return err
	}
	rec.Status = status
	if status == PayoutStatusPaid {
		rec.PaidAt = &now
		rec.FailureReason = ""
	}
	if status == PayoutStatusFailed {
		rec.FailureReason = failureReason
	}
	return nil
}

func (s *PayoutStore) ListAll(ctx context.Context, tenantCode string) ([]*PaymentRecord, error) {
	var recs []*PaymentRecord
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if tenantCode != "" {
		q = q.Where("tenant_code = ?", tenantCode)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListStaleProcessing returns processing records whose execution predates the
// cutoff; the reconcile command polls the rail for these.
func (s *PayoutStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*PaymentRecord, error) {
	var recs []*PaymentRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND executed_at < ?", PayoutStatusProcessing, cutoff).
		Order("executed_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
