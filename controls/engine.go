package controls

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/ledgerhq"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/sirupsen/logrus"
)

// The engine only sees narrow read interfaces, so a partial provider outage
// degrades one control line item and tests can run without any provider.

type AccountingReader interface {
	InvoiceByNumber(ctx context.Context, docNumber string) (*ledgerhq.Invoice, error)
	BillByID(ctx context.Context, billId string) (*ledgerhq.AcctBill, error)
}

type USRailReader interface {
	FindBillByInvoiceNumber(ctx context.Context, invoiceNumber string) (*meridian.RailBill, error)
	VendorByID(ctx context.Context, vendorId string) (*meridian.Vendor, error)
}

type CrossRailReader interface {
	ContactExists(ctx context.Context, contactId string) (bool, error)
}

type RecipientReader interface {
	GetByVendorId(ctx context.Context, vendorId string) (*models.RecipientMapping, error)
}

type SettlementReader interface {
	HasSettledPayment(ctx context.Context, tenantCode, billId string) (bool, error)
}

type Engine struct {
	accounting AccountingReader
	usRail     USRailReader
	crossRail  CrossRailReader
	recipients RecipientReader
	payments   SettlementReader
	logger     *logrus.Logger
	now        func() time.Time
}

func NewEngine(
	accounting AccountingReader,
	usRail USRailReader,
	crossRail CrossRailReader,
	recipients RecipientReader,
	payments SettlementReader,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		accounting: accounting,
		usRail:     usRail,
		crossRail:  crossRail,
		recipients: recipients,
		payments:   payments,
		logger:     logger,
		now:        time.Now,
	}
}

// Run evaluates every control for the bill, in a fixed order, and never
// short-circuits: an operator reading the result sees every failure at once.
// Checks run sequentially so ordering and reason collection stay deterministic
// in the logs.
func (e *Engine) Run(ctx context.Context, bill *models.Bill, tenant *models.TenantSettings) *models.ControlCheckResults {
	results := &models.ControlCheckResults{BillId: bill.Id}

	e.sourceControls(results, bill)
	e.accountingControls(ctx, results, bill)
	e.railControls(ctx, results, bill, tenant)
	e.generalControls(ctx, results, bill, tenant)

	results.Finalize()
	return results
}

func (e *Engine) sourceControls(results *models.ControlCheckResults, bill *models.Bill) {
	if bill.ApprovalState == models.ApprovalStateApproved {
		e.pass(results, models.ControlBillApproved, "bill is approved")
	} else {
		e.fail(results, models.ControlBillApproved,
			fmt.Sprintf("bill approval state is %q, expected %q", bill.ApprovalState, models.ApprovalStateApproved))
	}

	if bill.PayeeName != "" {
		e.pass(results, models.ControlPayeePresent, "payee is present on the bill")
	} else {
		e.fail(results, models.ControlPayeePresent, "bill has no payee")
	}
}

// accountingControls looks the invoice and the accounting bill up
// independently so a partial LedgerHQ outage degrades individual controls
// rather than the whole group.
func (e *Engine) accountingControls(ctx context.Context, results *models.ControlCheckResults, bill *models.Bill) {
	invoice, err := e.accounting.InvoiceByNumber(ctx, bill.InvoiceNumber)
	if err != nil {
		reason := err.Error()
		e.logAdapterFailure("accountingControls", models.ControlInvoiceExists, err)
		e.fail(results, models.ControlInvoiceExists, reason)
		e.fail(results, models.ControlInvoicePaid, "invoice could not be read: "+reason)
		e.fail(results, models.ControlInvoiceNotVoided, "invoice could not be read: "+reason)
	} else {
		e.pass(results, models.ControlInvoiceExists, "invoice "+invoice.DocNumber+" exists in LedgerHQ")

		if invoice.FullyPaid() {
			e.pass(results, models.ControlInvoicePaid, "invoice is fully paid")
		} else {
			e.fail(results, models.ControlInvoicePaid,
				fmt.Sprintf("invoice %s has an outstanding balance of %s", invoice.DocNumber, invoice.Balance.String()))
		}

		if invoice.Voided {
			e.fail(results, models.ControlInvoiceNotVoided, "invoice "+invoice.DocNumber+" is voided in LedgerHQ")
		} else {
			e.pass(results, models.ControlInvoiceNotVoided, "invoice is not voided")
		}
	}

	acctBill, err := e.accounting.BillByID(ctx, bill.AcctBillId)
	if err != nil {
		e.logAdapterFailure("accountingControls", models.ControlAcctBillExists, err)
		e.fail(results, models.ControlAcctBillExists, err.Error())
	} else {
		e.pass(results, models.ControlAcctBillExists, "bill "+acctBill.Id+" exists in LedgerHQ")
	}
}

func (e *Engine) railControls(ctx context.Context, results *models.ControlCheckResults, bill *models.Bill, tenant *models.TenantSettings) {
	switch tenant.Rail {
	case models.RailMeridian:
		e.meridianControls(ctx, results, bill)
	case models.RailGlobalPay:
		e.globalpayControls(ctx, results, bill)
	}
}

func (e *Engine) meridianControls(ctx context.Context, results *models.ControlCheckResults, bill *models.Bill) {
	railBill, err := e.usRail.FindBillByInvoiceNumber(ctx, bill.InvoiceNumber)
	if err != nil {
		reason := err.Error()
		e.logAdapterFailure("meridianControls", models.ControlRailBillFound, err)
		e.fail(results, models.ControlRailBillFound, reason)
		e.fail(results, models.ControlRailVendorResolved, "rail bill could not be read: "+reason)
		e.fail(results, models.ControlRailApprovalStatus, "rail bill could not be read: "+reason)
		return
	}
	e.pass(results, models.ControlRailBillFound, "bill found in Meridian by invoice number "+bill.InvoiceNumber)

	vendor, err := e.usRail.VendorByID(ctx, railBill.VendorId)
	switch {
	case err != nil:
		e.logAdapterFailure("meridianControls", models.ControlRailVendorResolved, err)
		e.fail(results, models.ControlRailVendorResolved, err.Error())
	case !vendor.Active:
		e.fail(results, models.ControlRailVendorResolved, "vendor "+vendor.Name+" is inactive in Meridian")
	default:
		e.pass(results, models.ControlRailVendorResolved, "vendor "+vendor.Name+" resolved in Meridian")
	}

	if meridian.ApprovalStatusAllowed(railBill.ApprovalStatus) {
		e.pass(results, models.ControlRailApprovalStatus, "rail approval status is payable")
	} else {
		e.fail(results, models.ControlRailApprovalStatus,
			fmt.Sprintf("rail approval status %q does not permit payment", railBill.ApprovalStatus))
	}
}

func (e *Engine) globalpayControls(ctx context.Context, results *models.ControlCheckResults, bill *models.Bill) {
	vendorId := bill.VendorId()
	mapping, err := e.recipients.GetByVendorId(ctx, vendorId)
	if err != nil {
		reason := err.Error()
		e.logAdapterFailure("globalpayControls", models.ControlRecipientMappingExists, err)
		e.fail(results, models.ControlRecipientMappingExists, reason)
		e.fail(results, models.ControlRecipientContactValid, "recipient mapping could not be read: "+reason)
		return
	}
	if mapping == nil {
		e.fail(results, models.ControlRecipientMappingExists,
			"no recipient mapping is configured for vendor "+vendorId)
		e.fail(results, models.ControlRecipientContactValid, "no recipient mapping to validate")
		return
	}
	e.pass(results, models.ControlRecipientMappingExists, "recipient mapping exists for vendor "+vendorId)

	// A mapping holding a contact id is not proof the contact is still live;
	// contacts can be revoked rail-side, so the directory is asked every run.
	if mapping.ContactId == "" {
		e.pass(results, models.ControlRecipientContactValid, "mapping has no peer contact; transfer will use email or bank routing")
		return
	}
	exists, err := e.crossRail.ContactExists(ctx, mapping.ContactId)
	switch {
	case err != nil:
		e.logAdapterFailure("globalpayControls", models.ControlRecipientContactValid, err)
		e.fail(results, models.ControlRecipientContactValid, err.Error())
	case !exists:
		e.fail(results, models.ControlRecipientContactValid,
			"contact "+mapping.ContactId+" no longer exists in the GlobalPay directory")
	default:
		e.pass(results, models.ControlRecipientContactValid, "rail contact confirmed in the GlobalPay directory")
	}
}

func (e *Engine) generalControls(ctx context.Context, results *models.ControlCheckResults, bill *models.Bill, tenant *models.TenantSettings) {
	settled, err := e.payments.HasSettledPayment(ctx, tenant.Code, bill.Id)
	switch {
	case err != nil:
		e.logAdapterFailure("generalControls", models.ControlNotAlreadyPaid, err)
		e.fail(results, models.ControlNotAlreadyPaid, "payment records could not be read: "+err.Error())
	case settled:
		e.fail(results, models.ControlNotAlreadyPaid, "a payment for this bill has already been paid")
	default:
		e.pass(results, models.ControlNotAlreadyPaid, "no prior paid payment exists for this bill")
	}

	elapsed := e.now().Sub(bill.TrxDate)
	required := time.Duration(tenant.ProvingPeriodHours) * time.Hour
	if elapsed >= required {
		e.pass(results, models.ControlProvingPeriod,
			fmt.Sprintf("proving period of %dh has elapsed", tenant.ProvingPeriodHours))
	} else {
		e.fail(results, models.ControlProvingPeriod,
			fmt.Sprintf("only %.1fh of the %dh proving period have elapsed", elapsed.Hours(), tenant.ProvingPeriodHours))
	}

	if bill.AdjustedAmount.IsPositive() {
		e.pass(results, models.ControlAmountValid, "amount is positive")
	} else {
		e.fail(results, models.ControlAmountValid,
			"payable amount must be strictly positive, got "+bill.AdjustedAmount.String())
	}
}

func (e *Engine) pass(results *models.ControlCheckResults, name, reason string) {
	results.Controls = append(results.Controls, models.ControlResult{
		Name:      name,
		Passed:    true,
		Reason:    reason,
		CheckedAt: e.now(),
	})
}

func (e *Engine) fail(results *models.ControlCheckResults, name, reason string) {
	results.Controls = append(results.Controls, models.ControlResult{
		Name:      name,
		Passed:    false,
		Reason:    reason,
		CheckedAt: e.now(),
	})
}

// logAdapterFailure keeps log severity aligned with the error taxonomy:
// a record deleted upstream is expected business traffic, an outage is not.
func (e *Engine) logAdapterFailure(funcName, control string, err error) {
	if e.logger == nil {
		return
	}
	if utils.IsNotFound(err) {
		config.LogInfo(e.logger, "controls", funcName, control, err.Error())
		return
	}
	config.LogError(e.logger, "controls", funcName, control, nil, err)
}
