package payouts

import (
	"context"
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
)

// Refresh polls the rail for the record's current provider status and applies
// the mapped transition. A provider status with no mapping leaves the record
// untouched; an unknown status is never guessed into a state change.
func (s *Service) Refresh(ctx context.Context, rec *models.PaymentRecord) error {
	if rec.ProviderPaymentId == "" {
		return nil
	}

	var (
		mapped models.PayoutStatus
		known  bool
		raw    string
	)
	switch rec.Rail {
	case models.RailMeridian:
		status, err := s.usRail.PaymentStatus(ctx, rec.ProviderPaymentId)
		if err != nil {
			return err
		}
		raw = status
		mapped, known = meridian.MapPaymentStatus(status)
	case models.RailGlobalPay:
		transferId, err := strconv.ParseInt(rec.ProviderPaymentId, 10, 64)
		if err != nil {
			return fmt.Errorf("record %d carries a non-numeric transfer id %q", rec.ID, rec.ProviderPaymentId)
		}
		status, err := s.crossRail.TransferStatus(ctx, transferId)
		if err != nil {
			return err
		}
		raw = status
		mapped, known = globalpay.MapTransferStatus(status)
	default:
		return fmt.Errorf("record %d carries unknown rail %q", rec.ID, rec.Rail)
	}

	if !known {
		config.LogInfo(s.logger, "payouts", "Refresh", "unmapped provider status "+raw, rec.SourceBillId)
		return nil
	}

	failureReason := ""
	if mapped == models.PayoutStatusFailed {
		failureReason = "provider reported status " + raw
	}
	return s.store.ApplyStatus(ctx, rec, mapped, failureReason)
}
