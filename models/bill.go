package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill is the normalized projection of a bill held by the approval system.
// The approval system is the source of truth; this backend never writes bills
// and never persists them, so there is no table behind this struct.
type Bill struct {
	Id             string          `json:"id"`
	Description    string          `json:"description"`
	ApprovalState  string          `json:"approvalState"`
	GrossAmount    decimal.Decimal `json:"grossAmount"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	ClientName     string          `json:"clientName"`
	PayeeName      string          `json:"payeeName"`
	PayeeEmail     string          `json:"payeeEmail,omitempty"`
	// One external vendor id per accounting tenant, keyed by tenant code.
	PayeeAccountingIds map[string]string `json:"payeeAccountingIds"`
	TrxDate            time.Time         `json:"trxDate"`
	InvoiceNumber      string            `json:"invoiceNumber"`
	AcctBillId         string            `json:"acctBillId"`
	TenantCode         string            `json:"tenantCode"`
}

const ApprovalStateApproved = "Approved"

// VendorId returns the payee's accounting id for the bill's own tenant.
func (b *Bill) VendorId() string {
	if b.PayeeAccountingIds == nil {
		return ""
	}
	return b.PayeeAccountingIds[b.TenantCode]
}
