package meridian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/shopspring/decimal"
)

const providerName = "meridian"

const (
	maxAttempts    = 3
	sessionTTL     = 30 * time.Minute
	errCodeSession = "sessionInvalid"
	errCodeAuth    = "authFailed"
	errCodeMFA     = "mfaRequired"
)

// ErrMFARequired is the distinct signal that callers must complete an MFA
// challenge/validate cycle before retrying a money-movement call. It is a
// domain error: retrying without a new input will never succeed.
var ErrMFARequired = errors.New("meridian: a trusted session is required to move money; complete MFA first")

type session struct {
	id        string
	trusted   bool
	expiresAt time.Time
}

type Client struct {
	cfg  config.MeridianConfig
	http *http.Client

	mu sync.Mutex
	// Session cookie cache plus the device-trust token from the last completed
	// MFA validation. Refreshed lazily on expiry, dropped on auth failure.
	sess       *session
	trustToken string
}

func NewClient(cfg config.MeridianConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) configured() bool {
	return c.cfg.Username != "" && c.cfg.Password != "" && c.cfg.OrgID != "" && c.cfg.DevKey != ""
}

// FindBillByInvoiceNumber locates Meridian's copy of the payable by the
// accounting document number.
func (c *Client) FindBillByInvoiceNumber(ctx context.Context, invoiceNumber string) (*RailBill, error) {
	var payload billListResponse
	err := c.call(ctx, "/api/v2/List/Bill", map[string]interface{}{
		"filters": []map[string]string{
			{"field": "invoiceNumber", "op": "=", "value": invoiceNumber},
		},
	}, &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.Bills) == 0 {
		return nil, utils.NewProviderError(utils.ErrorKindNotFound, providerName,
			"bill with invoice number "+invoiceNumber+" not found in Meridian", nil)
	}
	return &payload.Bills[0], nil
}

func (c *Client) VendorByID(ctx context.Context, vendorId string) (*Vendor, error) {
	var vendor Vendor
	err := c.call(ctx, "/api/v2/Crud/Read/Vendor", map[string]interface{}{"id": vendorId}, &vendor)
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

type PayBillRequest struct {
	BillId      string
	VendorId    string
	Amount      decimal.Decimal
	ProcessDate time.Time
}

// PayBill executes the payment. Meridian only authorizes money movement on a
// session that completed a second factor, so an untrusted session fails fast
// with ErrMFARequired instead of a provider round trip.
func (c *Client) PayBill(ctx context.Context, req PayBillRequest) (*SentPayment, error) {
	sess, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.trusted {
		return nil, utils.NewProviderError(utils.ErrorKindDomain, providerName, ErrMFARequired.Error(), ErrMFARequired)
	}

	var sent SentPayment
	err = c.call(ctx, "/api/v2/PayBills", map[string]interface{}{
		"billId":      req.BillId,
		"vendorId":    req.VendorId,
		"amount":      req.Amount,
		"processDate": req.ProcessDate.Format("2006-01-02"),
	}, &sent)
	if err != nil {
		return nil, err
	}
	return &sent, nil
}

// PaymentStatus reads the rail's current status string for a sent payment.
// The raw vocabulary is returned; mapping to internal states lives with the
// webhook reconciler so both paths share one table.
func (c *Client) PaymentStatus(ctx context.Context, sentPayId string) (string, error) {
	var sent SentPayment
	err := c.call(ctx, "/api/v2/Crud/Read/SentPay", map[string]interface{}{"id": sentPayId}, &sent)
	if err != nil {
		return "", err
	}
	return sent.Status, nil
}

// MFAChallenge asks Meridian to send a second-factor code to the account's
// registered device and returns the challenge id for the validate call.
func (c *Client) MFAChallenge(ctx context.Context) (string, error) {
	var payload mfaChallengeResponse
	err := c.call(ctx, "/api/v2/MFAChallenge", map[string]interface{}{"useBackup": false}, &payload)
	if err != nil {
		return "", err
	}
	return payload.ChallengeId, nil
}

// MFAValidate completes the challenge. On success the returned device-trust
// token is cached and the live session is upgraded to trusted, so the next
// PayBill on this process succeeds without another challenge.
func (c *Client) MFAValidate(ctx context.Context, challengeId, code string) (string, error) {
	var payload mfaValidateResponse
	err := c.call(ctx, "/api/v2/MFAAuthenticate", map[string]interface{}{
		"challengeId": challengeId,
		"token":       code,
		"deviceId":    c.cfg.MFADeviceId,
		"machineName": "payouts-backend",
		"rememberMe":  true,
	}, &payload)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.trustToken = payload.TrustToken
	if c.sess != nil {
		c.sess.trusted = true
	}
	c.mu.Unlock()
	return payload.TrustToken, nil
}

func (c *Client) currentSession(ctx context.Context) (*session, error) {
	c.mu.Lock()
	if c.sess != nil && time.Now().Before(c.sess.expiresAt) {
		sess := *c.sess
		c.mu.Unlock()
		return &sess, nil
	}
	c.mu.Unlock()
	return c.login(ctx)
}

// login creates a session. When a device-trust token exists (configured or
// cached from a prior MFA validation), the session comes back already trusted.
func (c *Client) login(ctx context.Context) (*session, error) {
	if !c.configured() {
		return nil, utils.NewProviderError(utils.ErrorKindConfig, providerName, "MERIDIAN_* credentials are not configured", nil)
	}

	c.mu.Lock()
	trustToken := c.trustToken
	if trustToken == "" {
		trustToken = c.cfg.MFATrustToken
	}
	c.mu.Unlock()

	body := map[string]interface{}{
		"devKey":   c.cfg.DevKey,
		"userName": c.cfg.Username,
		"password": c.cfg.Password,
		"orgId":    c.cfg.OrgID,
	}
	if trustToken != "" {
		body["mfaId"] = trustToken
		body["deviceId"] = c.cfg.MFADeviceId
	}

	var payload loginResponse
	if err := c.post(ctx, "/api/v2/Login", "", body, &payload); err != nil {
		return nil, err
	}

	sess := &session{
		id:        payload.SessionId,
		trusted:   payload.Trusted || trustToken != "",
		expiresAt: time.Now().Add(sessionTTL),
	}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	copied := *sess
	return &copied, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
}

// call runs an authenticated request, forcing one re-login and retry when the
// cached session is rejected.
func (c *Client) call(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	sess, err := c.currentSession(ctx)
	if err != nil {
		return err
	}

	err = c.post(ctx, path, sess.id, body, out)
	if err != nil {
		var pe *utils.ProviderError
		if errors.As(err, &pe) && pe.Kind == utils.ErrorKindAuth {
			c.dropSession()
			sess, lerr := c.login(ctx)
			if lerr != nil {
				return lerr
			}
			return c.post(ctx, path, sess.id, body, out)
		}
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, sessionId string, body map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := utils.DoWithRetry(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if sessionId != "" {
			req.Header.Set("sessionId", sessionId)
		}
		return c.http.Do(req)
	}, maxAttempts)
	if err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return utils.NewProviderError(utils.ErrorKindAuth, providerName, "session rejected", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName,
			fmt.Sprintf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return utils.NewProviderError(utils.ErrorKindTransport, providerName, "malformed response envelope", err)
	}
	if env.Status == "error" {
		switch env.ErrorCode {
		case errCodeSession, errCodeAuth:
			return utils.NewProviderError(utils.ErrorKindAuth, providerName, env.ErrorMessage, nil)
		case errCodeMFA:
			return utils.NewProviderError(utils.ErrorKindDomain, providerName, ErrMFARequired.Error(), ErrMFARequired)
		default:
			if strings.Contains(strings.ToLower(env.ErrorMessage), "not found") {
				return utils.NewProviderError(utils.ErrorKindNotFound, providerName, env.ErrorMessage, nil)
			}
			return utils.NewProviderError(utils.ErrorKindTransport, providerName,
				fmt.Sprintf("%s (%s)", env.ErrorMessage, env.ErrorCode), nil)
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return utils.NewProviderError(utils.ErrorKindTransport, providerName, "malformed response data", err)
		}
	}
	return nil
}
