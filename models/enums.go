package models

import "errors"

type PayoutStatus string

const (
	PayoutStatusQueued     PayoutStatus = "queued"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusQueued, PayoutStatusProcessing, PayoutStatusPaid, PayoutStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no webhook may move the record further.
// failed -> paid is allowed: a rail can retry a bounced payment on its own.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusPaid
}

type PaymentRail string

const (
	RailMeridian  PaymentRail = "meridian"
	RailGlobalPay PaymentRail = "globalpay"
)

func RailForTenant(tenantCode string) (PaymentRail, error) {
	switch tenantCode {
	case TenantUS:
		return RailMeridian, nil
	case TenantCA:
		return RailGlobalPay, nil
	}
	return "", errors.New("no payment rail configured for tenant " + tenantCode)
}

const (
	TenantUS = "US"
	TenantCA = "CA"
)
