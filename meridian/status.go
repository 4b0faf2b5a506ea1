package meridian

import "bitbucket.org/mmdatafocus/payouts_backend/models"

// paymentStatusMap is the exhaustive mapping from Meridian's sent-payment
// vocabulary to internal states. Statuses missing here are acknowledged but
// must never flip a payment record; an unknown provider state is not evidence
// of anything terminal.
var paymentStatusMap = map[string]models.PayoutStatus{
	"Scheduled": models.PayoutStatusProcessing,
	"InProcess": models.PayoutStatusProcessing,
	"Paid":      models.PayoutStatusPaid,
	"Failed":    models.PayoutStatusFailed,
	"Void":      models.PayoutStatusFailed,
}

func MapPaymentStatus(railStatus string) (models.PayoutStatus, bool) {
	status, ok := paymentStatusMap[railStatus]
	return status, ok
}
