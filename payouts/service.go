package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/controls"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BillSource interface {
	BillByID(ctx context.Context, billId string) (*models.Bill, error)
}

type TenantReader interface {
	Get(ctx context.Context, code string) (*models.TenantSettings, error)
}

type RecordStore interface {
	Create(ctx context.Context, rec *models.PaymentRecord) error
	Save(ctx context.Context, rec *models.PaymentRecord) error
	FindByBillId(ctx context.Context, tenantCode, billId string) (*models.PaymentRecord, error)
	ApplyStatus(ctx context.Context, rec *models.PaymentRecord, status models.PayoutStatus, failureReason string) error
}

type USRailExecutor interface {
	FindBillByInvoiceNumber(ctx context.Context, invoiceNumber string) (*meridian.RailBill, error)
	PayBill(ctx context.Context, req meridian.PayBillRequest) (*meridian.SentPayment, error)
	PaymentStatus(ctx context.Context, sentPayId string) (string, error)
}

type CrossRailExecutor interface {
	FindAccountByEmail(ctx context.Context, email string) (*globalpay.Account, error)
	Accounts(ctx context.Context) ([]globalpay.Account, error)
	CreateEmailAccount(ctx context.Context, name, email, currency string) (int64, error)
	CreateQuote(ctx context.Context, req globalpay.QuoteRequest) (*globalpay.Quote, error)
	CreateTransfer(ctx context.Context, req globalpay.TransferRequest) (*globalpay.Transfer, error)
	FundTransfer(ctx context.Context, transferId int64) error
	TransferStatus(ctx context.Context, transferId int64) (string, error)
}

type RecipientSource interface {
	GetByVendorId(ctx context.Context, vendorId string) (*models.RecipientMapping, error)
	CacheAccountId(ctx context.Context, id uint, accountId int64) error
}

type Service struct {
	bills      BillSource
	tenants    TenantReader
	engine     *controls.Engine
	usRail     USRailExecutor
	crossRail  CrossRailExecutor
	recipients RecipientSource
	store      RecordStore
	locker     *redislock.Client // nil when Redis is down; the DB constraint still holds
	mailer     Mailer
	logger     *logrus.Logger
	now        func() time.Time
}

func NewService(
	bills BillSource,
	tenants TenantReader,
	engine *controls.Engine,
	usRail USRailExecutor,
	crossRail CrossRailExecutor,
	recipients RecipientSource,
	store RecordStore,
	locker *redislock.Client,
	mailer Mailer,
	logger *logrus.Logger,
) *Service {
	return &Service{
		bills:      bills,
		tenants:    tenants,
		engine:     engine,
		usRail:     usRail,
		crossRail:  crossRail,
		recipients: recipients,
		store:      store,
		locker:     locker,
		mailer:     mailer,
		logger:     logger,
		now:        time.Now,
	}
}

const payoutLockTTL = 2 * time.Minute

// RunControls fetches the bill and evaluates every control for it.
func (s *Service) RunControls(ctx context.Context, billId string) (*models.ControlCheckResults, error) {
	bill, err := s.bills.BillByID(ctx, billId)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.Get(ctx, bill.TenantCode)
	if err != nil {
		return nil, err
	}
	return s.engine.Run(ctx, bill, tenant), nil
}

// PayBill gates and executes the payout. The rail is always re-derived from
// the bill's own tenant code; a caller-supplied rail is never trusted.
func (s *Service) PayBill(ctx context.Context, billId string, processDate *time.Time) *models.PaymentResult {
	bill, err := s.bills.BillByID(ctx, billId)
	if err != nil {
		return failure(billId, decimal.Zero, "could not load bill: "+err.Error())
	}
	tenant, err := s.tenants.Get(ctx, bill.TenantCode)
	if err != nil {
		return failure(billId, bill.AdjustedAmount, "could not load tenant settings: "+err.Error())
	}

	results := s.engine.Run(ctx, bill, tenant)
	if !results.ReadyToPay {
		return failure(billId, bill.AdjustedAmount, "bill is not payable: "+results.FailedSummary())
	}

	// Best-effort serialization of concurrent operators; the unique index on
	// (tenant_code, source_bill_id) is the reliability backstop.
	if s.locker != nil {
		lock, lockErr := s.locker.Obtain(ctx, "payout:"+tenant.Code+":"+billId, payoutLockTTL, nil)
		if lockErr != nil {
			if errors.Is(lockErr, redislock.ErrNotObtained) {
				return failure(billId, bill.AdjustedAmount, "another execution for this bill is already in progress")
			}
			config.LogError(s.logger, "payouts", "PayBill", "redislock", billId, lockErr)
		} else {
			defer lock.Release(context.WithoutCancel(ctx))
		}
	}

	rec, err := s.openRecord(ctx, bill, tenant, results)
	if err != nil {
		return failure(billId, bill.AdjustedAmount, err.Error())
	}

	actor, _ := utils.GetActorFromContext(ctx)
	rec.ExecutedBy = actor

	var execErr error
	switch tenant.Rail {
	case models.RailMeridian:
		execErr = s.executeMeridian(ctx, bill, rec, processDate)
	case models.RailGlobalPay:
		execErr = s.executeGlobalPay(ctx, bill, tenant, rec)
	default:
		execErr = fmt.Errorf("no payment rail configured for tenant %s", tenant.Code)
	}

	if execErr != nil {
		rec.Status = models.PayoutStatusFailed
		rec.FailureReason = execErr.Error()
		if saveErr := s.store.Save(ctx, rec); saveErr != nil {
			config.LogError(s.logger, "payouts", "PayBill", "persist failure outcome", billId, saveErr)
		}
		config.LogError(s.logger, "payouts", "PayBill", string(tenant.Rail), billId, execErr)
		return &models.PaymentResult{
			Success:   false,
			PaymentId: rec.ID,
			BillId:    billId,
			Amount:    bill.AdjustedAmount,
			Status:    models.PayoutStatusFailed,
			Message:   execErr.Error(),
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		// The rail accepted the payment; surface the record as whatever we
		// know, never pretend the payment failed.
		config.LogError(s.logger, "payouts", "PayBill", "persist success outcome", billId, err)
	}

	return &models.PaymentResult{
		Success:   true,
		PaymentId: rec.ID,
		BillId:    billId,
		Amount:    rec.Amount,
		Status:    rec.Status,
		Message:   fmt.Sprintf("payment %s via %s", rec.Status, tenant.Rail),
	}
}

// openRecord claims the bill with a conditional insert before any money
// moves: the second of two racing executions fails here, not after a second
// rail call. A prior failed attempt is re-armed in place so the one-row-per-
// bill invariant survives retries.
func (s *Service) openRecord(ctx context.Context, bill *models.Bill, tenant *models.TenantSettings, results *models.ControlCheckResults) (*models.PaymentRecord, error) {
	existing, err := s.store.FindByBillId(ctx, tenant.Code, bill.Id)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != models.PayoutStatusFailed {
		return nil, fmt.Errorf("a payment for this bill is already %s", existing.Status)
	}

	rec := existing
	if rec == nil {
		rec = &models.PaymentRecord{
			TenantCode:   tenant.Code,
			SourceBillId: bill.Id,
		}
	}
	rec.VendorId = bill.VendorId()
	rec.PayeeName = bill.PayeeName
	rec.Amount = bill.AdjustedAmount
	rec.Rail = tenant.Rail
	rec.Status = models.PayoutStatusQueued
	rec.PaymentRef = uuid.NewString()
	rec.FailureReason = ""
	if err := rec.SetControlsSnapshot(results); err != nil {
		return nil, err
	}

	if existing == nil {
		if err := s.store.Create(ctx, rec); err != nil {
			if errors.Is(err, models.ErrDuplicatePayment) {
				return nil, errors.New("a payment for this bill is already queued or processing")
			}
			return nil, err
		}
		return rec, nil
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PaymentStatus returns the persisted record, proactively polling the rail
// for records still in flight and applying any mapped transition.
func (s *Service) PaymentStatus(ctx context.Context, billId string) (*models.PaymentRecord, error) {
	bill, err := s.bills.BillByID(ctx, billId)
	if err != nil {
		return nil, err
	}
	rec, err := s.findRecord(ctx, bill.TenantCode, billId)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Status != models.PayoutStatusProcessing || rec.ProviderPaymentId == "" {
		return rec, nil
	}
	if err := s.Refresh(ctx, rec); err != nil {
		config.LogError(s.logger, "payouts", "PaymentStatus", "rail poll", billId, err)
	}
	return rec, nil
}

func (s *Service) findRecord(ctx context.Context, tenantCode, billId string) (*models.PaymentRecord, error) {
	return s.store.FindByBillId(ctx, tenantCode, billId)
}

func failure(billId string, amount decimal.Decimal, message string) *models.PaymentResult {
	return &models.PaymentResult{
		Success: false,
		BillId:  billId,
		Amount:  amount,
		Message: message,
	}
}
