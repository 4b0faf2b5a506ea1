package webhooks

import (
	"bytes"
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const testSecret = "whsec_test"

type fakeRecords struct {
	rec     *models.PaymentRecord
	lookups []string
	applied []models.PayoutStatus
	reasons []string
}

func (f *fakeRecords) FindByProviderRef(ctx context.Context, rail models.PaymentRail, providerId string) (*models.PaymentRecord, error) {
	f.lookups = append(f.lookups, providerId)
	return f.rec, nil
}

func (f *fakeRecords) ApplyStatus(ctx context.Context, rec *models.PaymentRecord, status models.PayoutStatus, failureReason string) error {
	f.applied = append(f.applied, status)
	f.reasons = append(f.reasons, failureReason)
	rec.Status = status
	return nil
}

type fakeEvents struct {
	seen      map[string]bool
	processed []string
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{seen: map[string]bool{}}
}

func (f *fakeEvents) Record(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	key := ev.Provider + "|" + ev.ProviderEventID
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, ev *models.WebhookEvent, processingError string) error {
	f.processed = append(f.processed, processingError)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func signHMAC(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func meridianRouter(records *fakeRecords, events *fakeEvents) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(records, events, NewHMACVerifier(testSecret), NewRejectingVerifier("unused"), quietLogger())
	r := gin.New()
	r.POST("/webhooks/meridian", h.Meridian())
	return r
}

func postMeridian(t *testing.T, r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/meridian", bytes.NewReader(body))
	req.Header.Set(meridianSignatureHeader, signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func meridianBody(t *testing.T, eventId, paymentId, status string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"eventId":   eventId,
		"eventType": "payment.updated",
		"payment":   map[string]string{"id": paymentId, "status": status},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestMeridianWebhook_BadSignatureRejected(t *testing.T) {
	records := &fakeRecords{}
	events := newFakeEvents()
	r := meridianRouter(records, events)

	body := meridianBody(t, "evt-1", "sp-900", "Paid")
	w := postMeridian(t, r, body, "deadbeef")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(events.seen) != 0 {
		t.Fatalf("unsigned events must never be recorded")
	}
	if len(records.applied) != 0 {
		t.Fatalf("unsigned events must never transition records")
	}
}

func TestMeridianWebhook_PaidTransitionApplied(t *testing.T) {
	records := &fakeRecords{rec: &models.PaymentRecord{ID: 1, Status: models.PayoutStatusProcessing, ProviderPaymentId: "sp-900"}}
	events := newFakeEvents()
	r := meridianRouter(records, events)

	body := meridianBody(t, "evt-1", "sp-900", "Paid")
	w := postMeridian(t, r, body, signHMAC(body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(records.applied) != 1 || records.applied[0] != models.PayoutStatusPaid {
		t.Fatalf("expected a paid transition, got %v", records.applied)
	}
	if len(records.lookups) != 1 || records.lookups[0] != "sp-900" {
		t.Fatalf("lookup must use the provider payment id, got %v", records.lookups)
	}
}

func TestMeridianWebhook_DuplicateDeliveryDoesNotReprocess(t *testing.T) {
	records := &fakeRecords{rec: &models.PaymentRecord{ID: 1, Status: models.PayoutStatusProcessing, ProviderPaymentId: "sp-900"}}
	events := newFakeEvents()
	r := meridianRouter(records, events)

	body := meridianBody(t, "evt-1", "sp-900", "Paid")
	first := postMeridian(t, r, body, signHMAC(body))
	second := postMeridian(t, r, body, signHMAC(body))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("redeliveries must still be acknowledged, got %d then %d", first.Code, second.Code)
	}
	if len(records.applied) != 1 {
		t.Fatalf("the redelivery must not reprocess, got %d transitions", len(records.applied))
	}
}

func TestMeridianWebhook_UnmappedStatusAcknowledgedWithoutChange(t *testing.T) {
	records := &fakeRecords{rec: &models.PaymentRecord{ID: 1, Status: models.PayoutStatusProcessing, ProviderPaymentId: "sp-900"}}
	events := newFakeEvents()
	r := meridianRouter(records, events)

	body := meridianBody(t, "evt-2", "sp-900", "UnderReview")
	w := postMeridian(t, r, body, signHMAC(body))

	if w.Code != http.StatusOK {
		t.Fatalf("unknown statuses are acknowledged, got %d", w.Code)
	}
	if len(records.applied) != 0 {
		t.Fatalf("unknown statuses must not transition records")
	}
}

func TestMeridianWebhook_UnknownPaymentAcknowledged(t *testing.T) {
	records := &fakeRecords{}
	events := newFakeEvents()
	r := meridianRouter(records, events)

	body := meridianBody(t, "evt-3", "sp-unknown", "Paid")
	w := postMeridian(t, r, body, signHMAC(body))

	if w.Code != http.StatusOK {
		t.Fatalf("events for unknown payments are acknowledged, got %d", w.Code)
	}
	if len(records.applied) != 0 {
		t.Fatalf("no record exists, nothing may be transitioned")
	}
}

func TestGlobalPayWebhook_StateChangeApplied(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	verifier, err := NewRSAVerifier(string(pubPEM))
	if err != nil {
		t.Fatal(err)
	}

	records := &fakeRecords{rec: &models.PaymentRecord{ID: 1, Status: models.PayoutStatusProcessing, ProviderPaymentId: "4242"}}
	events := newFakeEvents()
	gin.SetMode(gin.TestMode)
	h := NewHandler(records, events, NewRejectingVerifier("unused"), verifier, quietLogger())
	r := gin.New()
	r.POST("/webhooks/globalpay", h.GlobalPay())

	body, err := json.Marshal(map[string]interface{}{
		"event_type": "transfers#state-change",
		"data": map[string]interface{}{
			"resource":      map[string]interface{}{"id": 4242, "type": "transfer"},
			"current_state": "funds_refunded",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/globalpay", bytes.NewReader(body))
	req.Header.Set(globalpaySignatureHeader, base64.StdEncoding.EncodeToString(sig))
	req.Header.Set(globalpayDeliveryHeader, "dlv-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(records.applied) != 1 || records.applied[0] != models.PayoutStatusFailed {
		t.Fatalf("funds_refunded must fail the record, got %v", records.applied)
	}
	if len(records.reasons) != 1 || records.reasons[0] == "" {
		t.Fatalf("the failure must carry the provider state as reason")
	}

	// Tampering with the signed payload must be rejected.
	tampered := bytes.Replace(body, []byte("funds_refunded"), []byte("cancelled_____"), 1)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/globalpay", bytes.NewReader(tampered))
	req.Header.Set(globalpaySignatureHeader, base64.StdEncoding.EncodeToString(sig))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("tampered payload must be rejected, got %d", w.Code)
	}
}
