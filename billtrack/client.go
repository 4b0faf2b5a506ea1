package billtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
)

const providerName = "billtrack"

const maxAttempts = 3

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.BillTrackConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) BillByID(ctx context.Context, billId string) (*models.Bill, error) {
	var payload billPayload
	if err := c.get(ctx, "/v2/bills/"+url.PathEscape(billId), nil, &payload); err != nil {
		return nil, err
	}
	return payload.toBill(), nil
}

func (c *Client) ApprovedBills(ctx context.Context) ([]*models.Bill, error) {
	params := url.Values{}
	params.Set("approvalState", models.ApprovalStateApproved)

	var payload billListResponse
	if err := c.get(ctx, "/v2/bills", params, &payload); err != nil {
		return nil, err
	}
	bills := make([]*models.Bill, 0, len(payload.Bills))
	for i := range payload.Bills {
		bills = append(bills, payload.Bills[i].toBill())
	}
	return bills, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if c.apiKey == "" {
		return utils.NewProviderError(utils.ErrorKindConfig, providerName, "BILLTRACK_API_KEY is not configured", nil)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	resp, err := utils.DoWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, maxAttempts)
	if err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return utils.NewProviderError(utils.ErrorKindAuth, providerName, "api key rejected", nil)
	case resp.StatusCode == http.StatusNotFound:
		return utils.NewProviderError(utils.ErrorKindNotFound, providerName, "bill not found in BillTrack", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return utils.NewProviderError(utils.ErrorKindTransport, providerName,
			fmt.Sprintf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "malformed response body", err)
	}
	return nil
}
