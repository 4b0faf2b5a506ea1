package ledgerhq

import "github.com/shopspring/decimal"

// LedgerHQ serializes with PascalCase field names; the json tags here do the
// case-folding into this codebase's conventions.

type Invoice struct {
	Id          string          `json:"Id"`
	DocNumber   string          `json:"DocNumber"`
	TotalAmount decimal.Decimal `json:"TotalAmt"`
	Balance     decimal.Decimal `json:"Balance"`
	Voided      bool            `json:"Voided"`
}

// FullyPaid reports whether nothing remains outstanding on the invoice.
func (i *Invoice) FullyPaid() bool {
	return i.Balance.IsZero() && i.TotalAmount.IsPositive()
}

type AcctBill struct {
	Id       string          `json:"Id"`
	VendorId string          `json:"VendorRef"`
	Amount   decimal.Decimal `json:"TotalAmt"`
}

type invoiceQueryResponse struct {
	Invoices []Invoice `json:"Invoice"`
}

type billReadResponse struct {
	Bill *AcctBill `json:"Bill"`
}
