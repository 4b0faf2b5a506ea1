package globalpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/shopspring/decimal"
)

const providerName = "globalpay"

const maxAttempts = 3

type Client struct {
	cfg  config.GlobalPayConfig
	http *http.Client

	mu        sync.Mutex
	profileId int64 // resolved business profile, cached for the process
}

func NewClient(cfg config.GlobalPayConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) configured() bool {
	return c.cfg.APIToken != ""
}

// ProfileID discovers the business profile once and caches it.
func (c *Client) ProfileID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.profileId != 0 {
		id := c.profileId
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var profiles []Profile
	if err := c.get(ctx, "/v1/profiles", nil, &profiles); err != nil {
		return 0, err
	}
	for _, p := range profiles {
		if p.Type == "business" {
			c.mu.Lock()
			c.profileId = p.Id
			c.mu.Unlock()
			return p.Id, nil
		}
	}
	return 0, utils.NewProviderError(utils.ErrorKindConfig, providerName,
		"no business profile exists for this API token", nil)
}

// ContactExists confirms a directory contact is still live. A mapping holding
// a contact id is not enough: contacts can be revoked rail-side.
func (c *Client) ContactExists(ctx context.Context, contactId string) (bool, error) {
	cursor := ""
	for {
		params := url.Values{}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var page contactListResponse
		if err := c.get(ctx, "/v1/contacts", params, &page); err != nil {
			return false, err
		}
		for _, contact := range page.Contacts {
			if contact.Id == contactId {
				return true, nil
			}
		}
		if page.NextCursor == "" {
			return false, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	profileId, err := c.ProfileID(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("profile", strconv.FormatInt(profileId, 10))

	var page accountListResponse
	if err := c.get(ctx, "/v1/accounts", params, &page); err != nil {
		return nil, err
	}
	return page.Accounts, nil
}

func (c *Client) AccountByID(ctx context.Context, accountId int64) (*Account, error) {
	var acc Account
	if err := c.get(ctx, "/v1/accounts/"+strconv.FormatInt(accountId, 10), nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *Client) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if strings.EqualFold(accounts[i].Email, email) {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// CreateEmailAccount registers an email-claim payable account: the recipient
// claims the funds through an emailed link.
func (c *Client) CreateEmailAccount(ctx context.Context, name, email, currency string) (int64, error) {
	profileId, err := c.ProfileID(ctx)
	if err != nil {
		return 0, err
	}
	var acc Account
	err = c.post(ctx, "/v1/accounts", map[string]interface{}{
		"profile":           profileId,
		"accountHolderName": name,
		"currency":          currency,
		"type":              "email",
		"details":           map[string]string{"email": email},
	}, &acc)
	if err != nil {
		return 0, err
	}
	return acc.Id, nil
}

type QuoteRequest struct {
	SourceCurrency string
	TargetCurrency string
	SourceAmount   decimal.Decimal
	// ContactId, when set, routes funds directly into the contact's own rail
	// balance (peer-account transfer) regardless of the formal target account.
	ContactId string
}

func (c *Client) CreateQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	profileId, err := c.ProfileID(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"profile":        profileId,
		"sourceCurrency": req.SourceCurrency,
		"targetCurrency": req.TargetCurrency,
		"sourceAmount":   req.SourceAmount,
		"payOut":         "BALANCE",
	}
	if req.ContactId != "" {
		body["targetContact"] = req.ContactId
	}
	var quote Quote
	if err := c.post(ctx, "/v1/quotes", body, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

type TransferRequest struct {
	QuoteId   string
	Reference string
	// TargetAccount is required by the API even for peer-account transfers,
	// where the quote's embedded contact overrides actual delivery. Nil sends
	// the variant without an explicit target.
	TargetAccount *int64
}

func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := map[string]interface{}{
		"quoteUuid": req.QuoteId,
		"details":   map[string]string{"reference": utils.TruncateReference(req.Reference, ReferenceMaxLen)},
	}
	if req.TargetAccount != nil {
		body["targetAccount"] = *req.TargetAccount
	}
	var transfer Transfer
	if err := c.post(ctx, "/v1/transfers", body, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// FundTransfer pays for the transfer from the business balance. Once this
// returns cleanly the rail is committed to delivering the money.
func (c *Client) FundTransfer(ctx context.Context, transferId int64) error {
	profileId, err := c.ProfileID(ctx)
	if err != nil {
		return err
	}
	var payload fundResponse
	path := fmt.Sprintf("/v3/profiles/%d/transfers/%d/payments", profileId, transferId)
	if err := c.post(ctx, path, map[string]string{"type": "BALANCE"}, &payload); err != nil {
		return err
	}
	if payload.Status != "COMPLETED" {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName,
			"funding finished with status "+payload.Status, nil)
	}
	return nil
}

func (c *Client) TransferStatus(ctx context.Context, transferId int64) (string, error) {
	var transfer Transfer
	if err := c.get(ctx, "/v1/transfers/"+strconv.FormatInt(transferId, 10), nil, &transfer); err != nil {
		return "", err
	}
	return transfer.Status, nil
}

func (c *Client) BalanceFor(ctx context.Context, currency string) (decimal.Decimal, error) {
	profileId, err := c.ProfileID(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	var page balanceListResponse
	if err := c.get(ctx, fmt.Sprintf("/v1/profiles/%d/balances", profileId), nil, &page); err != nil {
		return decimal.Zero, err
	}
	for _, b := range page.Balances {
		if strings.EqualFold(b.Currency, currency) {
			return b.Amount, nil
		}
	}
	return decimal.Zero, utils.NewProviderError(utils.ErrorKindNotFound, providerName,
		"no "+currency+" balance on the business profile", nil)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.cfg.BaseURL+path, raw, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	if !c.configured() {
		return utils.NewProviderError(utils.ErrorKindConfig, providerName, "GLOBALPAY_API_TOKEN is not configured", nil)
	}

	resp, err := utils.DoWithRetry(func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.http.Do(req)
	}, maxAttempts)
	if err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return utils.NewProviderError(utils.ErrorKindAuth, providerName, "api token rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return utils.NewProviderError(utils.ErrorKindNotFound, providerName, "record not found", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return utils.NewProviderError(utils.ErrorKindTransport, providerName,
			fmt.Sprintf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return utils.NewProviderError(utils.ErrorKindTransport, providerName, "malformed response body", err)
		}
	}
	return nil
}
