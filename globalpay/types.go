package globalpay

import "github.com/shopspring/decimal"

// ReferenceMaxLen is the rail's hard limit on the transfer reference field.
const ReferenceMaxLen = 10

type Profile struct {
	Id   int64  `json:"id"`
	Type string `json:"type"`
}

// Contact is an entry in the rail's own recipient directory. Contacts can be
// revoked rail-side, so a stored contact id is never proof the contact still
// exists.
type Contact struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type contactListResponse struct {
	Contacts   []Contact `json:"contacts"`
	NextCursor string    `json:"nextCursor"`
}

// Account is a payable target at the rail. Email-claim accounts carry the
// recipient email; bank accounts carry whatever details were registered.
type Account struct {
	Id       int64  `json:"id"`
	Name     string `json:"accountHolderName"`
	Email    string `json:"email"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
}

type accountListResponse struct {
	Accounts []Account `json:"accounts"`
}

type Quote struct {
	Id             string          `json:"id"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
	TargetAmount   decimal.Decimal `json:"targetAmount"`
	Rate           decimal.Decimal `json:"rate"`
}

type Transfer struct {
	Id        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

type fundResponse struct {
	Status string `json:"status"`
}

type Balance struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type balanceListResponse struct {
	Balances []Balance `json:"balances"`
}
