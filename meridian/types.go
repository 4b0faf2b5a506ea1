package meridian

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Every Meridian response arrives in the same envelope; failures come back as
// HTTP 200 with status "error" and a code, so the client decodes the envelope
// before looking at anything else.
type envelope struct {
	Status       string          `json:"status"`
	ErrorCode    string          `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

type loginResponse struct {
	SessionId string `json:"sessionId"`
	Trusted   bool   `json:"trusted"`
}

type mfaChallengeResponse struct {
	ChallengeId string `json:"challengeId"`
}

type mfaValidateResponse struct {
	TrustToken string `json:"mfaId"`
}

// RailBill is Meridian's own copy of a payable, located by the accounting
// document number.
type RailBill struct {
	Id             string          `json:"id"`
	VendorId       string          `json:"vendorId"`
	InvoiceNumber  string          `json:"invoiceNumber"`
	Amount         decimal.Decimal `json:"amount"`
	ApprovalStatus string          `json:"approvalStatus"`
}

type Vendor struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"isActive"`
}

type billListResponse struct {
	Bills []RailBill `json:"bills"`
}

type SentPayment struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

// Meridian approval status codes. Money may only move for bills that either
// never entered an approval chain or cleared it.
const (
	ApprovalStatusUnassigned = "0"
	ApprovalStatusAssigned   = "1"
	ApprovalStatusApproving  = "3"
	ApprovalStatusApproved   = "4"
	ApprovalStatusDenied     = "5"
)

var allowedApprovalStatuses = map[string]bool{
	ApprovalStatusUnassigned: true,
	ApprovalStatusApproved:   true,
}

func ApprovalStatusAllowed(code string) bool {
	return allowedApprovalStatuses[code]
}
