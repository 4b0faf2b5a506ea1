package meridian

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/shopspring/decimal"
)

type fakeMeridianServer struct {
	paths    []string
	trusted  bool
	payCalls int
}

func (s *fakeMeridianServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.paths = append(s.paths, r.URL.Path)
		respond := func(data interface{}) {
			raw, _ := json.Marshal(data)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "success",
				"data":   json.RawMessage(raw),
			})
		}
		switch r.URL.Path {
		case "/api/v2/Login":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			_, hasTrust := body["mfaId"]
			respond(map[string]interface{}{"sessionId": "sess-1", "trusted": s.trusted || hasTrust})
		case "/api/v2/MFAChallenge":
			respond(map[string]string{"challengeId": "ch-1"})
		case "/api/v2/MFAAuthenticate":
			respond(map[string]string{"mfaId": "trust-1"})
		case "/api/v2/PayBills":
			s.payCalls++
			respond(map[string]string{"id": "sp-1", "status": "Scheduled"})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":       "error",
				"errorCode":    "unknown",
				"errorMessage": "not found",
			})
		}
	}
}

func testClient(baseURL string) *Client {
	return NewClient(config.MeridianConfig{
		BaseURL:     baseURL,
		OrgID:       "org-1",
		Username:    "ops",
		Password:    "pw",
		DevKey:      "dev-1",
		MFADeviceId: "device-1",
	})
}

func TestPayBill_UntrustedSessionFailsFast(t *testing.T) {
	srv := &fakeMeridianServer{trusted: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := testClient(ts.URL)
	_, err := c.PayBill(context.Background(), PayBillRequest{BillId: "b-1", VendorId: "v-1", Amount: decimal.NewFromInt(10)})
	if err == nil {
		t.Fatalf("expected an MFA error")
	}
	if !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
	if !utils.IsDomainError(err) {
		t.Fatalf("MFA requirement must classify as a domain error, got kind %q", utils.KindOf(err))
	}
	if srv.payCalls != 0 {
		t.Fatalf("an untrusted session must never reach the pay endpoint")
	}
}

func TestMFAValidate_UpgradesSessionAndUnblocksPayment(t *testing.T) {
	srv := &fakeMeridianServer{trusted: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := testClient(ts.URL)

	challengeId, err := c.MFAChallenge(context.Background())
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	trustToken, err := c.MFAValidate(context.Background(), challengeId, "123456")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if trustToken != "trust-1" {
		t.Fatalf("expected the trust token back, got %q", trustToken)
	}

	sent, err := c.PayBill(context.Background(), PayBillRequest{BillId: "b-1", VendorId: "v-1", Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("pay after validation: %v", err)
	}
	if sent.Id != "sp-1" {
		t.Fatalf("unexpected sent payment: %+v", sent)
	}
	if srv.payCalls != 1 {
		t.Fatalf("expected one pay call, got %d", srv.payCalls)
	}
}

func TestLogin_ConfiguredTrustTokenSkipsChallenge(t *testing.T) {
	srv := &fakeMeridianServer{trusted: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := testClient(ts.URL)
	c.cfg.MFATrustToken = "trust-persisted"

	if _, err := c.PayBill(context.Background(), PayBillRequest{BillId: "b-1", VendorId: "v-1", Amount: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("a configured trust token must allow payment without a challenge: %v", err)
	}
	for _, path := range srv.paths {
		if path == "/api/v2/MFAChallenge" {
			t.Fatalf("no challenge should be issued when a trust token is configured")
		}
	}
}

func TestClient_MissingCredentialsIsConfigError(t *testing.T) {
	c := NewClient(config.MeridianConfig{BaseURL: "http://localhost:0"})
	_, err := c.FindBillByInvoiceNumber(context.Background(), "INV-1")
	if err == nil {
		t.Fatalf("expected a config error")
	}
	if utils.KindOf(err) != utils.ErrorKindConfig {
		t.Fatalf("expected config kind, got %q", utils.KindOf(err))
	}
}
