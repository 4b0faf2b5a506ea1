package payouts

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
)

type recipientShape int

const (
	// Recipient has a live rail contact and a usable email: funds route
	// directly into their own rail balance.
	shapePeerAccount recipientShape = iota
	// Email only: the recipient claims funds through an emailed link.
	shapeEmailClaim
	// Neither: fall back to a registered bank account.
	shapeBankAccount
)

func shapeOf(mapping *models.RecipientMapping) recipientShape {
	usableEmail := !utils.IsPlaceholderEmail(mapping.Email)
	switch {
	case mapping.ContactId != "" && usableEmail:
		return shapePeerAccount
	case usableEmail:
		return shapeEmailClaim
	default:
		return shapeBankAccount
	}
}

// executeGlobalPay runs the cross-border sequence: resolve the recipient,
// quote, create the transfer, fund it from the business balance. Funding is a
// synchronous commitment, so the record lands directly on `paid` — unlike the
// US rail there is no settlement window to wait out.
func (s *Service) executeGlobalPay(ctx context.Context, bill *models.Bill, tenant *models.TenantSettings, rec *models.PaymentRecord) error {
	mapping, err := s.recipients.GetByVendorId(ctx, bill.VendorId())
	if err != nil {
		return err
	}
	if mapping == nil {
		return utils.NewProviderError(utils.ErrorKindDomain, "globalpay",
			"no recipient mapping is configured for vendor "+bill.VendorId(), nil)
	}

	quoteReq := globalpay.QuoteRequest{
		SourceCurrency: tenant.SourceCurrency,
		TargetCurrency: mapping.TargetCurrency,
		SourceAmount:   bill.AdjustedAmount,
	}

	var targetAccount int64
	switch shapeOf(mapping) {
	case shapePeerAccount:
		// The contact id on the quote routes the money; the email-based
		// account below only satisfies the transfer API's formal target.
		quoteReq.ContactId = mapping.ContactId
		targetAccount, err = s.ensureEmailAccount(ctx, mapping)
	case shapeEmailClaim:
		targetAccount, err = s.ensureEmailAccount(ctx, mapping)
	case shapeBankAccount:
		targetAccount, err = s.resolveBankAccount(ctx, mapping)
	}
	if err != nil {
		return err
	}

	quote, err := s.crossRail.CreateQuote(ctx, quoteReq)
	if err != nil {
		return err
	}

	// A quote abandoned past this point expires on its own; there is nothing
	// to roll back.
	reference := bill.InvoiceNumber + " " + utils.Surname(bill.PayeeName)
	transfer, err := s.crossRail.CreateTransfer(ctx, globalpay.TransferRequest{
		QuoteId:       quote.Id,
		Reference:     reference,
		TargetAccount: &targetAccount,
	})
	if err != nil {
		return err
	}

	if err := s.crossRail.FundTransfer(ctx, transfer.Id); err != nil {
		return err
	}

	now := s.now()
	rec.Status = models.PayoutStatusPaid
	rec.ProviderPaymentId = strconv.FormatInt(transfer.Id, 10)
	rec.ExecutedAt = &now
	rec.PaidAt = &now

	s.notifyPayee(bill, mapping)
	return nil
}

// ensureEmailAccount returns the cached payable account for the mapping's
// email, creating and caching one on first use.
func (s *Service) ensureEmailAccount(ctx context.Context, mapping *models.RecipientMapping) (int64, error) {
	if mapping.AccountId != 0 {
		return mapping.AccountId, nil
	}

	account, err := s.crossRail.FindAccountByEmail(ctx, mapping.Email)
	if err != nil {
		return 0, err
	}

	var accountId int64
	if account != nil {
		accountId = account.Id
	} else {
		accountId, err = s.crossRail.CreateEmailAccount(ctx, mapping.PayeeName, mapping.Email, mapping.TargetCurrency)
		if err != nil {
			return 0, err
		}
	}

	if err := s.recipients.CacheAccountId(ctx, mapping.ID, accountId); err != nil {
		config.LogError(s.logger, "payouts", "ensureEmailAccount", "cache account id", mapping.VendorId, err)
	}
	mapping.AccountId = accountId
	return accountId, nil
}

// resolveBankAccount falls back through the documented precedence: stored
// account id, then email directory lookup, then a case-folded name match
// against the rail's account list. No match is terminal and needs manual
// recipient configuration.
func (s *Service) resolveBankAccount(ctx context.Context, mapping *models.RecipientMapping) (int64, error) {
	if mapping.AccountId != 0 {
		return mapping.AccountId, nil
	}

	if mapping.Email != "" {
		account, err := s.crossRail.FindAccountByEmail(ctx, mapping.Email)
		if err != nil && !utils.IsNotFound(err) {
			return 0, err
		}
		if account != nil {
			return account.Id, nil
		}
	}

	accounts, err := s.crossRail.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	for i := range accounts {
		if utils.SameName(accounts[i].Name, mapping.PayeeName) {
			return accounts[i].Id, nil
		}
	}

	return 0, utils.NewProviderError(utils.ErrorKindDomain, "globalpay",
		fmt.Sprintf("no payable account could be resolved for %s; configure the recipient manually", mapping.PayeeName), errors.New("recipient unresolved"))
}

// notifyPayee is strictly best-effort: payment success and notification
// success are decoupled.
func (s *Service) notifyPayee(bill *models.Bill, mapping *models.RecipientMapping) {
	to := mapping.Email
	if utils.IsPlaceholderEmail(to) {
		to = bill.PayeeEmail
	}
	if utils.IsPlaceholderEmail(to) {
		return
	}

	subject := "Payment sent for invoice " + bill.InvoiceNumber
	body := fmt.Sprintf("Hi %s,\n\nA payment of %s has been sent for invoice %s.\n",
		bill.PayeeName, bill.AdjustedAmount.StringFixed(2), bill.InvoiceNumber)
	if err := s.mailer.Send(to, subject, body); err != nil {
		config.LogError(s.logger, "payouts", "notifyPayee", bill.Id, nil, err)
	}
}
