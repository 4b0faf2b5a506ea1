package payouts

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
)

// executeMeridian runs the US rail sequence: locate the rail's copy of the
// bill by the accounting document number, then execute payment against the
// resolved vendor/bill pair for the adjusted amount. Meridian settles
// asynchronously, so the record stays `processing` until a webhook or poll
// confirms the outcome.
func (s *Service) executeMeridian(ctx context.Context, bill *models.Bill, rec *models.PaymentRecord, processDate *time.Time) error {
	railBill, err := s.usRail.FindBillByInvoiceNumber(ctx, bill.InvoiceNumber)
	if err != nil {
		return err
	}

	when := s.now()
	if processDate != nil {
		when = *processDate
	}

	sent, err := s.usRail.PayBill(ctx, meridian.PayBillRequest{
		BillId:      railBill.Id,
		VendorId:    railBill.VendorId,
		Amount:      bill.AdjustedAmount,
		ProcessDate: when,
	})
	if err != nil {
		return err
	}

	now := s.now()
	rec.Status = models.PayoutStatusProcessing
	rec.ProviderPaymentId = sent.Id
	rec.ProcessDate = &when
	rec.ExecutedAt = &now
	return nil
}
