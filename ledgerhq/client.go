package ledgerhq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const providerName = "ledgerhq"

const maxAttempts = 3

type Client struct {
	cfg  config.LedgerHQConfig
	http *http.Client

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

func NewClient(cfg config.LedgerHQConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

func (c *Client) tokenSource(ctx context.Context) oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		cc := &clientcredentials.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			TokenURL:     c.cfg.TokenURL,
		}
		c.tokens = cc.TokenSource(context.WithoutCancel(ctx))
	}
	return c.tokens
}

// dropToken forces a fresh client-credentials grant on the next call. Used
// when LedgerHQ rejects a token it previously issued (revocation, rotation).
func (c *Client) dropToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// InvoiceByNumber looks an invoice up by its document number. A missing
// invoice is a not-found error, not a transport failure: LedgerHQ deactivates
// records upstream and the controls engine treats that as a normal failed
// control.
func (c *Client) InvoiceByNumber(ctx context.Context, docNumber string) (*Invoice, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("select * from Invoice where DocNumber = '%s'", strings.ReplaceAll(docNumber, "'", "")))

	var payload invoiceQueryResponse
	if err := c.get(ctx, "/v3/query", params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Invoices) == 0 {
		return nil, utils.NewProviderError(utils.ErrorKindNotFound, providerName,
			"invoice "+docNumber+" not found in LedgerHQ", nil)
	}
	return &payload.Invoices[0], nil
}

func (c *Client) BillByID(ctx context.Context, billId string) (*AcctBill, error) {
	var payload billReadResponse
	if err := c.get(ctx, "/v3/bills/"+url.PathEscape(billId), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Bill == nil {
		return nil, utils.NewProviderError(utils.ErrorKindNotFound, providerName,
			"bill "+billId+" not found in LedgerHQ", nil)
	}
	return payload.Bill, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if !c.configured() {
		return utils.NewProviderError(utils.ErrorKindConfig, providerName, "LEDGERHQ_CLIENT_ID/SECRET are not configured", nil)
	}

	body, status, err := c.do(ctx, path, params)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// Token was cached but rejected: re-authenticate once and retry.
		c.dropToken()
		body, status, err = c.do(ctx, path, params)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return utils.NewProviderError(utils.ErrorKindAuth, providerName, "credentials rejected after re-authentication", nil)
		}
	}

	switch {
	case status == http.StatusNotFound:
		return utils.NewProviderError(utils.ErrorKindNotFound, providerName, "record not found in LedgerHQ", nil)
	case status < 200 || status >= 300:
		return utils.NewProviderError(utils.ErrorKindTransport, providerName,
			fmt.Sprintf("api error %d: %s", status, strings.TrimSpace(string(body))), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "malformed response body", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	token, err := c.tokenSource(ctx).Token()
	if err != nil {
		return nil, 0, utils.NewProviderError(utils.ErrorKindAuth, providerName, "token grant failed", err)
	}

	endpoint := c.cfg.BaseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	resp, err := utils.DoWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		token.SetAuthHeader(req)
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, maxAttempts)
	if err != nil {
		return nil, 0, utils.NewProviderError(utils.ErrorKindTransport, providerName, "request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, nil
}
