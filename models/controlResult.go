package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Control names, in the order the engine runs them. The reason strings on the
// failing side are shown to operators verbatim, so they name the blocking
// system, not this codebase.
const (
	ControlBillApproved           = "billApproved"
	ControlPayeePresent           = "payeePresent"
	ControlInvoiceExists          = "invoiceExists"
	ControlInvoicePaid            = "invoicePaid"
	ControlInvoiceNotVoided       = "invoiceNotVoided"
	ControlAcctBillExists         = "acctBillExists"
	ControlRailBillFound          = "railBillFound"
	ControlRailVendorResolved     = "railVendorResolved"
	ControlRailApprovalStatus     = "railApprovalStatus"
	ControlRecipientMappingExists = "recipientMappingExists"
	ControlRecipientContactValid  = "recipientContactValid"
	ControlNotAlreadyPaid         = "notAlreadyPaid"
	ControlProvingPeriod          = "provingPeriod"
	ControlAmountValid            = "amountValid"
)

type ControlResult struct {
	Name      string    `json:"name"`
	Passed    bool      `json:"passed"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checkedAt"`
}

type ControlCheckResults struct {
	BillId     string          `json:"billId"`
	Controls   []ControlResult `json:"controls"`
	AllPassed  bool            `json:"allPassed"`
	ReadyToPay bool            `json:"readyToPay"`
}

// Finalize derives the aggregate fields. ReadyToPay is never stored: it is
// the AND over every control, with no exceptions.
func (r *ControlCheckResults) Finalize() {
	all := true
	for _, c := range r.Controls {
		if !c.Passed {
			all = false
			break
		}
	}
	r.AllPassed = all
	r.ReadyToPay = all
}

// FailedSummary concatenates the failed control names and reasons for the
// user-facing rejection message.
func (r *ControlCheckResults) FailedSummary() string {
	var parts []string
	for _, c := range r.Controls {
		if !c.Passed {
			parts = append(parts, c.Name+": "+c.Reason)
		}
	}
	return strings.Join(parts, "; ")
}

type PaymentResult struct {
	Success   bool            `json:"success"`
	PaymentId uint            `json:"paymentId,omitempty"`
	BillId    string          `json:"billId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PayoutStatus    `json:"status,omitempty"`
	Message   string          `json:"message"`
}
