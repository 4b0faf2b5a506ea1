package globalpay

import "bitbucket.org/mmdatafocus/payouts_backend/models"

// transferStatusMap is the exhaustive mapping from GlobalPay's transfer
// vocabulary to internal states. bounced_back stays processing: the rail
// retries delivery on its own before refunding.
var transferStatusMap = map[string]models.PayoutStatus{
	"incoming_payment_waiting": models.PayoutStatusProcessing,
	"processing":               models.PayoutStatusProcessing,
	"funds_converted":          models.PayoutStatusProcessing,
	"bounced_back":             models.PayoutStatusProcessing,
	"outgoing_payment_sent":    models.PayoutStatusPaid,
	"funds_refunded":           models.PayoutStatusFailed,
	"cancelled":                models.PayoutStatusFailed,
}

func MapTransferStatus(railStatus string) (models.PayoutStatus, bool) {
	status, ok := transferStatusMap[railStatus]
	return status, ok
}
