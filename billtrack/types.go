package billtrack

import (
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/shopspring/decimal"
)

// billPayload mirrors the BillTrack wire shape. BillTrack predates its own
// style guide, so some fields arrive snake_cased and tenant codes arrive in
// whatever casing the submitting office used; mapping normalizes both.
type billPayload struct {
	Id             string         `json:"id"`
	Description    string         `json:"description"`
	ApprovalState  string         `json:"approval_state"`
	GrossAmount    decimal.Decimal `json:"grossAmount"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	ClientName     string         `json:"client_name"`
	Payee          payeePayload   `json:"payee"`
	TrxDate        time.Time      `json:"trxDate"`
	InvoiceNumber  string         `json:"invoice_number"`
	AcctBillId     string         `json:"acctBillId"`
	TenantCode     string         `json:"tenant_code"`
}

type payeePayload struct {
	Name          string                `json:"name"`
	Email         string                `json:"email"`
	AccountingIds []accountingIdPayload `json:"accountingIds"`
}

type accountingIdPayload struct {
	TenantCode string `json:"tenantCode"`
	VendorId   string `json:"vendorId"`
}

type billListResponse struct {
	Bills []billPayload `json:"bills"`
}

func (p *billPayload) toBill() *models.Bill {
	ids := make(map[string]string, len(p.Payee.AccountingIds))
	for _, a := range p.Payee.AccountingIds {
		ids[strings.ToUpper(strings.TrimSpace(a.TenantCode))] = a.VendorId
	}
	return &models.Bill{
		Id:                 p.Id,
		Description:        p.Description,
		ApprovalState:      p.ApprovalState,
		GrossAmount:        p.GrossAmount,
		AdjustedAmount:     p.AdjustedAmount,
		ClientName:         p.ClientName,
		PayeeName:          p.Payee.Name,
		PayeeEmail:         strings.TrimSpace(p.Payee.Email),
		PayeeAccountingIds: ids,
		TrxDate:            p.TrxDate,
		InvoiceNumber:      p.InvoiceNumber,
		AcctBillId:         p.AcctBillId,
		TenantCode:         strings.ToUpper(strings.TrimSpace(p.TenantCode)),
	}
}
