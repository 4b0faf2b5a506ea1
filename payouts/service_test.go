package payouts

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/controls"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/ledgerhq"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. Fakes cover every provider and
// the record store, so the gating, claiming and routing semantics are checked
// without MySQL or network access.

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBills struct {
	bill *models.Bill
	err  error
}

func (f *fakeBills) BillByID(ctx context.Context, billId string) (*models.Bill, error) {
	return f.bill, f.err
}

type fakeTenants struct {
	tenant *models.TenantSettings
}

func (f *fakeTenants) Get(ctx context.Context, code string) (*models.TenantSettings, error) {
	return f.tenant, nil
}

type appliedStatus struct {
	status models.PayoutStatus
	reason string
}

type fakeStore struct {
	existing  *models.PaymentRecord
	createErr error
	created   []*models.PaymentRecord
	saved     []*models.PaymentRecord
	applied   []appliedStatus
	settled   bool
}

func (f *fakeStore) Create(ctx context.Context, rec *models.PaymentRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	rec.ID = uint(len(f.created) + 1)
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeStore) Save(ctx context.Context, rec *models.PaymentRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) FindByBillId(ctx context.Context, tenantCode, billId string) (*models.PaymentRecord, error) {
	return f.existing, nil
}

func (f *fakeStore) ApplyStatus(ctx context.Context, rec *models.PaymentRecord, status models.PayoutStatus, failureReason string) error {
	f.applied = append(f.applied, appliedStatus{status: status, reason: failureReason})
	rec.Status = status
	return nil
}

func (f *fakeStore) HasSettledPayment(ctx context.Context, tenantCode, billId string) (bool, error) {
	return f.settled, nil
}

type fakeAccounting struct{}

func (f *fakeAccounting) InvoiceByNumber(ctx context.Context, docNumber string) (*ledgerhq.Invoice, error) {
	return &ledgerhq.Invoice{Id: "inv-1", DocNumber: docNumber, TotalAmount: decimal.NewFromInt(1500), Balance: decimal.Zero}, nil
}

func (f *fakeAccounting) BillByID(ctx context.Context, billId string) (*ledgerhq.AcctBill, error) {
	return &ledgerhq.AcctBill{Id: billId}, nil
}

type fakeUSRail struct {
	bill      *meridian.RailBill
	payErr    error
	paid      []meridian.PayBillRequest
	railState string
	statusErr error
}

func (f *fakeUSRail) FindBillByInvoiceNumber(ctx context.Context, invoiceNumber string) (*meridian.RailBill, error) {
	return f.bill, nil
}

func (f *fakeUSRail) VendorByID(ctx context.Context, vendorId string) (*meridian.Vendor, error) {
	return &meridian.Vendor{Id: vendorId, Name: "Aye Chan Moe", Active: true}, nil
}

func (f *fakeUSRail) PayBill(ctx context.Context, req meridian.PayBillRequest) (*meridian.SentPayment, error) {
	if f.payErr != nil {
		return nil, f.payErr
	}
	f.paid = append(f.paid, req)
	return &meridian.SentPayment{Id: "sp-900", Status: "Scheduled"}, nil
}

func (f *fakeUSRail) PaymentStatus(ctx context.Context, sentPayId string) (string, error) {
	return f.railState, f.statusErr
}

type fakeCrossRail struct {
	accounts       []globalpay.Account
	accountByEmail *globalpay.Account
	createdAccount int64
	createdFor     []string
	quotes         []globalpay.QuoteRequest
	transfers      []globalpay.TransferRequest
	fundErr        error
	funded         []int64
	transferState  string
}

func (f *fakeCrossRail) ContactExists(ctx context.Context, contactId string) (bool, error) {
	return true, nil
}

func (f *fakeCrossRail) FindAccountByEmail(ctx context.Context, email string) (*globalpay.Account, error) {
	return f.accountByEmail, nil
}

func (f *fakeCrossRail) Accounts(ctx context.Context) ([]globalpay.Account, error) {
	return f.accounts, nil
}

func (f *fakeCrossRail) CreateEmailAccount(ctx context.Context, name, email, currency string) (int64, error) {
	f.createdFor = append(f.createdFor, email)
	return f.createdAccount, nil
}

func (f *fakeCrossRail) CreateQuote(ctx context.Context, req globalpay.QuoteRequest) (*globalpay.Quote, error) {
	f.quotes = append(f.quotes, req)
	return &globalpay.Quote{Id: "q-1"}, nil
}

func (f *fakeCrossRail) CreateTransfer(ctx context.Context, req globalpay.TransferRequest) (*globalpay.Transfer, error) {
	f.transfers = append(f.transfers, req)
	return &globalpay.Transfer{Id: 4242}, nil
}

func (f *fakeCrossRail) FundTransfer(ctx context.Context, transferId int64) error {
	if f.fundErr != nil {
		return f.fundErr
	}
	f.funded = append(f.funded, transferId)
	return nil
}

func (f *fakeCrossRail) TransferStatus(ctx context.Context, transferId int64) (string, error) {
	return f.transferState, nil
}

type fakeRecipients struct {
	mapping *models.RecipientMapping
	cached  []int64
}

func (f *fakeRecipients) GetByVendorId(ctx context.Context, vendorId string) (*models.RecipientMapping, error) {
	return f.mapping, nil
}

func (f *fakeRecipients) CacheAccountId(ctx context.Context, id uint, accountId int64) error {
	f.cached = append(f.cached, accountId)
	return nil
}

type noopMailer struct {
	sent []string
}

func (m *noopMailer) Send(to, subject, body string) error {
	m.sent = append(m.sent, to)
	return nil
}

type harness struct {
	svc       *Service
	store     *fakeStore
	usRail    *fakeUSRail
	crossRail *fakeCrossRail
	mailer    *noopMailer
}

func usBill() *models.Bill {
	return &models.Bill{
		Id:                 "bill-1",
		ApprovalState:      models.ApprovalStateApproved,
		AdjustedAmount:     decimal.NewFromFloat(1250.50),
		PayeeName:          "Aye Chan Moe",
		PayeeEmail:         "aye@corp.example.org",
		PayeeAccountingIds: map[string]string{models.TenantUS: "vend-77"},
		TrxDate:            testNow.Add(-48 * time.Hour),
		InvoiceNumber:      "INV-1001",
		AcctBillId:         "acct-9",
		TenantCode:         models.TenantUS,
	}
}

func caBill() *models.Bill {
	b := usBill()
	b.TenantCode = models.TenantCA
	b.PayeeAccountingIds = map[string]string{models.TenantCA: "vend-77"}
	return b
}

func caMapping() *models.RecipientMapping {
	return &models.RecipientMapping{
		ID:             3,
		VendorId:       "vend-77",
		PayeeName:      "Aye Chan Moe",
		Email:          "aye@corp.example.org",
		TargetCurrency: "CAD",
	}
}

func newHarness(bill *models.Bill, tenant *models.TenantSettings, mapping *models.RecipientMapping) *harness {
	store := &fakeStore{}
	usRail := &fakeUSRail{
		bill: &meridian.RailBill{Id: "mb-1", VendorId: "mv-1", InvoiceNumber: "INV-1001", ApprovalStatus: meridian.ApprovalStatusApproved},
	}
	crossRail := &fakeCrossRail{createdAccount: 505}
	recipients := &fakeRecipients{mapping: mapping}
	mailer := &noopMailer{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine := controls.NewEngine(&fakeAccounting{}, usRail, crossRail, recipients, store, logger)
	svc := NewService(&fakeBills{bill: bill}, &fakeTenants{tenant: tenant}, engine, usRail, crossRail, recipients, store, nil, mailer, logger)
	svc.now = func() time.Time { return testNow }
	return &harness{svc: svc, store: store, usRail: usRail, crossRail: crossRail, mailer: mailer}
}

func usTenant() *models.TenantSettings {
	return &models.TenantSettings{Code: models.TenantUS, Rail: models.RailMeridian, ProvingPeriodHours: 24, SourceCurrency: "USD"}
}

func caTenant() *models.TenantSettings {
	return &models.TenantSettings{Code: models.TenantCA, Rail: models.RailGlobalPay, ProvingPeriodHours: 24, SourceCurrency: "USD"}
}

func TestPayBill_USFlow(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if !result.Success {
		t.Fatalf("expected success, got: %s", result.Message)
	}
	if result.Status != models.PayoutStatusProcessing {
		t.Fatalf("a sent meridian payment must stay processing, got %s", result.Status)
	}
	if len(h.usRail.paid) != 1 {
		t.Fatalf("expected exactly one rail payment, got %d", len(h.usRail.paid))
	}
	if got := h.usRail.paid[0].BillId; got != "mb-1" {
		t.Fatalf("payment must target the rail's bill id, got %q", got)
	}
	if len(h.store.created) != 1 {
		t.Fatalf("expected one claimed record, got %d", len(h.store.created))
	}
	rec := h.store.created[0]
	if rec.ProviderPaymentId != "sp-900" {
		t.Fatalf("provider payment id not captured, got %q", rec.ProviderPaymentId)
	}
	if rec.PaymentRef == "" {
		t.Fatalf("record must carry a generated payment reference")
	}
	if len(rec.ControlsSnapshot) == 0 {
		t.Fatalf("record must snapshot the controls verdict it was executed under")
	}
}

func TestPayBill_RejectedWhenControlsFail(t *testing.T) {
	bill := usBill()
	bill.ApprovalState = "Draft"
	h := newHarness(bill, usTenant(), nil)

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if result.Success {
		t.Fatalf("an unapproved bill must not be paid")
	}
	if !strings.Contains(result.Message, models.ControlBillApproved) {
		t.Fatalf("rejection must name the failed control, got %q", result.Message)
	}
	if len(h.store.created) != 0 {
		t.Fatalf("no record may be claimed for a rejected bill")
	}
	if len(h.usRail.paid) != 0 {
		t.Fatalf("no rail call may happen for a rejected bill")
	}
}

func TestPayBill_SecondRacerLosesTheInsert(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.store.createErr = models.ErrDuplicatePayment

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if result.Success {
		t.Fatalf("losing the conditional insert must reject the execution")
	}
	if !strings.Contains(result.Message, "already") {
		t.Fatalf("unexpected rejection message: %q", result.Message)
	}
	if len(h.usRail.paid) != 0 {
		t.Fatalf("the loser of the insert race must never reach the rail")
	}
}

func TestPayBill_ProcessingRecordBlocksRetry(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.store.existing = &models.PaymentRecord{ID: 9, Status: models.PayoutStatusProcessing}

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if result.Success {
		t.Fatalf("a processing record must block a second execution")
	}
	if len(h.usRail.paid) != 0 {
		t.Fatalf("no rail call may happen while a payment is in flight")
	}
}

func TestPayBill_FailedRecordIsReArmed(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.store.existing = &models.PaymentRecord{
		ID:            9,
		TenantCode:    models.TenantUS,
		SourceBillId:  "bill-1",
		Status:        models.PayoutStatusFailed,
		FailureReason: "provider reported status Void",
	}

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if !result.Success {
		t.Fatalf("a failed attempt must be retryable, got: %s", result.Message)
	}
	if len(h.store.created) != 0 {
		t.Fatalf("retry must reuse the existing row, not insert a second one")
	}
	rec := h.store.existing
	if rec.Status != models.PayoutStatusProcessing {
		t.Fatalf("re-armed record should be processing after the rail accepted, got %s", rec.Status)
	}
	if rec.FailureReason != "" {
		t.Fatalf("re-arming must clear the stale failure reason")
	}
}

func TestPayBill_RailFailureMarksRecordFailed(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.usRail.payErr = errors.New("rail rejected the payment")

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if result.Success {
		t.Fatalf("a rail failure must surface as a failed result")
	}
	if result.Status != models.PayoutStatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
	if len(h.store.created) != 1 {
		t.Fatalf("the claimed record must survive the failure for audit")
	}
	rec := h.store.created[0]
	if rec.Status != models.PayoutStatusFailed || rec.FailureReason == "" {
		t.Fatalf("record must carry the failure outcome, got status=%s reason=%q", rec.Status, rec.FailureReason)
	}
}

func TestPayBill_CrossBorder_PeerContactRoutesQuote(t *testing.T) {
	mapping := caMapping()
	mapping.ContactId = "ct-5"
	h := newHarness(caBill(), caTenant(), mapping)
	h.crossRail.accountByEmail = &globalpay.Account{Id: 808, Email: "aye@corp.example.org"}

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if !result.Success {
		t.Fatalf("expected success, got: %s", result.Message)
	}
	if result.Status != models.PayoutStatusPaid {
		t.Fatalf("a funded transfer settles synchronously, got %s", result.Status)
	}
	if len(h.crossRail.quotes) != 1 || h.crossRail.quotes[0].ContactId != "ct-5" {
		t.Fatalf("peer contact must ride on the quote, got %+v", h.crossRail.quotes)
	}
	if len(h.crossRail.transfers) != 1 || *h.crossRail.transfers[0].TargetAccount != 808 {
		t.Fatalf("transfer must still carry the email account as formal target, got %+v", h.crossRail.transfers)
	}
	if len(h.crossRail.funded) != 1 || h.crossRail.funded[0] != 4242 {
		t.Fatalf("transfer must be funded, got %v", h.crossRail.funded)
	}
}

func TestPayBill_CrossBorder_EmailClaimCreatesAccountOnce(t *testing.T) {
	h := newHarness(caBill(), caTenant(), caMapping())

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if !result.Success {
		t.Fatalf("expected success, got: %s", result.Message)
	}
	if len(h.crossRail.createdFor) != 1 || h.crossRail.createdFor[0] != "aye@corp.example.org" {
		t.Fatalf("an unknown email must create an email account, got %v", h.crossRail.createdFor)
	}
	if len(h.crossRail.quotes) != 1 || h.crossRail.quotes[0].ContactId != "" {
		t.Fatalf("email-claim quotes carry no contact id, got %+v", h.crossRail.quotes)
	}
	if len(h.mailer.sent) != 1 {
		t.Fatalf("payee notification should go out after funding, got %v", h.mailer.sent)
	}
}

func TestPayBill_CrossBorder_PlaceholderEmailFallsBackToNameMatch(t *testing.T) {
	mapping := caMapping()
	mapping.Email = "noemail+vend77@placeholder.local"
	h := newHarness(caBill(), caTenant(), mapping)
	h.crossRail.accounts = []globalpay.Account{
		{Id: 11, Name: "Somebody Else"},
		{Id: 12, Name: "  aye  chan  MOE "},
	}

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if !result.Success {
		t.Fatalf("expected success via name match, got: %s", result.Message)
	}
	if len(h.crossRail.createdFor) != 0 {
		t.Fatalf("placeholder emails must never create email accounts")
	}
	if *h.crossRail.transfers[0].TargetAccount != 12 {
		t.Fatalf("expected the folded name match, got target %d", *h.crossRail.transfers[0].TargetAccount)
	}
}

func TestPayBill_CrossBorder_UnresolvableRecipientIsTerminal(t *testing.T) {
	mapping := caMapping()
	mapping.Email = ""
	h := newHarness(caBill(), caTenant(), mapping)
	h.crossRail.accounts = []globalpay.Account{{Id: 11, Name: "Somebody Else"}}

	result := h.svc.PayBill(context.Background(), "bill-1", nil)

	if result.Success {
		t.Fatalf("an unresolvable recipient must fail the execution")
	}
	if len(h.crossRail.quotes) != 0 {
		t.Fatalf("no quote may be created for an unresolvable recipient")
	}
	if !strings.Contains(result.Message, "configure the recipient") {
		t.Fatalf("failure must tell the operator what to fix, got %q", result.Message)
	}
}

func TestRefresh_UnmappedStatusLeavesRecordAlone(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.usRail.railState = "PendingReview"

	rec := &models.PaymentRecord{ID: 1, Rail: models.RailMeridian, Status: models.PayoutStatusProcessing, ProviderPaymentId: "sp-900"}
	if err := h.svc.Refresh(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.store.applied) != 0 {
		t.Fatalf("an unmapped provider status must not transition the record")
	}
	if rec.Status != models.PayoutStatusProcessing {
		t.Fatalf("record status changed unexpectedly to %s", rec.Status)
	}
}

func TestRefresh_MappedStatusApplies(t *testing.T) {
	h := newHarness(usBill(), usTenant(), nil)
	h.usRail.railState = "Paid"

	rec := &models.PaymentRecord{ID: 1, Rail: models.RailMeridian, Status: models.PayoutStatusProcessing, ProviderPaymentId: "sp-900"}
	if err := h.svc.Refresh(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.store.applied) != 1 || h.store.applied[0].status != models.PayoutStatusPaid {
		t.Fatalf("expected a paid transition, got %+v", h.store.applied)
	}
}

func TestRefresh_GlobalPayFailureCarriesReason(t *testing.T) {
	h := newHarness(caBill(), caTenant(), caMapping())
	h.crossRail.transferState = "funds_refunded"

	rec := &models.PaymentRecord{ID: 1, Rail: models.RailGlobalPay, Status: models.PayoutStatusProcessing, ProviderPaymentId: "4242"}
	if err := h.svc.Refresh(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.store.applied) != 1 {
		t.Fatalf("expected one transition, got %d", len(h.store.applied))
	}
	if h.store.applied[0].status != models.PayoutStatusFailed || !strings.Contains(h.store.applied[0].reason, "funds_refunded") {
		t.Fatalf("failed transition must carry the provider state, got %+v", h.store.applied[0])
	}
}
