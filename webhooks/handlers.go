package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	meridianSignatureHeader  = "X-Meridian-Signature"
	globalpaySignatureHeader = "X-Signature-SHA256"
	globalpayDeliveryHeader  = "X-Delivery-Id"
)

type RecordFinder interface {
	FindByProviderRef(ctx context.Context, rail models.PaymentRail, providerId string) (*models.PaymentRecord, error)
	ApplyStatus(ctx context.Context, rec *models.PaymentRecord, status models.PayoutStatus, failureReason string) error
}

type EventStore interface {
	Record(ctx context.Context, ev *models.WebhookEvent) (duplicate bool, err error)
	MarkProcessed(ctx context.Context, ev *models.WebhookEvent, processingError string) error
}

// Handler reconciles provider callbacks onto payment records. Webhooks are a
// faster signal than polling, never a more authoritative one: every transition
// applied here goes through the same status maps and ApplyStatus rules as the
// reconcile poll.
type Handler struct {
	records           RecordFinder
	events            EventStore
	meridianVerifier  SignatureVerifier
	globalpayVerifier SignatureVerifier
	logger            *logrus.Logger
}

func NewHandler(records RecordFinder, events EventStore, meridianVerifier, globalpayVerifier SignatureVerifier, logger *logrus.Logger) *Handler {
	return &Handler{
		records:           records,
		events:            events,
		meridianVerifier:  meridianVerifier,
		globalpayVerifier: globalpayVerifier,
		logger:            logger,
	}
}

type ackResponse struct {
	Received bool   `json:"received"`
	Message  string `json:"message,omitempty"`
}

func ack(c *gin.Context, message string) {
	c.JSON(http.StatusOK, ackResponse{Received: true, Message: message})
}

type meridianEvent struct {
	EventId   string `json:"eventId"`
	EventType string `json:"eventType"`
	Payment   struct {
		Id     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// Meridian handles sent-payment status callbacks. Events referencing an
// unknown payment are acknowledged and dropped; refusing them would only make
// the provider redeliver something we can never match.
func (h *Handler) Meridian() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, ackResponse{Message: "unreadable body"})
			return
		}
		if err := h.meridianVerifier.Verify(body, c.GetHeader(meridianSignatureHeader)); err != nil {
			config.LogError(h.logger, "webhooks", "Meridian", "signature", nil, err)
			c.JSON(http.StatusUnauthorized, ackResponse{Message: "invalid signature"})
			return
		}

		var ev meridianEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			c.JSON(http.StatusBadRequest, ackResponse{Message: "malformed payload"})
			return
		}

		audit := &models.WebhookEvent{
			Provider:        "meridian",
			ProviderEventID: ev.EventId,
			EventType:       ev.EventType,
			PayloadJSON:     string(body),
		}
		duplicate, err := h.events.Record(c.Request.Context(), audit)
		if err != nil {
			config.LogError(h.logger, "webhooks", "Meridian", "record event", ev.EventId, err)
		}
		if duplicate {
			ack(c, "duplicate delivery")
			return
		}

		mapped, known := meridian.MapPaymentStatus(ev.Payment.Status)
		if !known {
			h.finish(c, audit, fmt.Sprintf("status %q is not mapped; no change applied", ev.Payment.Status))
			return
		}

		h.apply(c, audit, models.RailMeridian, ev.Payment.Id, mapped,
			"provider reported status "+ev.Payment.Status)
	}
}

type globalpayEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		Resource struct {
			Id   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"resource"`
		CurrentState string `json:"current_state"`
	} `json:"data"`
}

// GlobalPay handles transfer state-change callbacks. The delivery id header
// dedups redeliveries; when it is absent the resource/state pair stands in.
func (h *Handler) GlobalPay() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, ackResponse{Message: "unreadable body"})
			return
		}
		if err := h.globalpayVerifier.Verify(body, c.GetHeader(globalpaySignatureHeader)); err != nil {
			config.LogError(h.logger, "webhooks", "GlobalPay", "signature", nil, err)
			c.JSON(http.StatusUnauthorized, ackResponse{Message: "invalid signature"})
			return
		}

		var ev globalpayEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			c.JSON(http.StatusBadRequest, ackResponse{Message: "malformed payload"})
			return
		}

		eventId := c.GetHeader(globalpayDeliveryHeader)
		if eventId == "" {
			eventId = fmt.Sprintf("%d:%s", ev.Data.Resource.Id, ev.Data.CurrentState)
		}
		audit := &models.WebhookEvent{
			Provider:        "globalpay",
			ProviderEventID: eventId,
			EventType:       ev.EventType,
			PayloadJSON:     string(body),
		}
		duplicate, err := h.events.Record(c.Request.Context(), audit)
		if err != nil {
			config.LogError(h.logger, "webhooks", "GlobalPay", "record event", eventId, err)
		}
		if duplicate {
			ack(c, "duplicate delivery")
			return
		}

		mapped, known := globalpay.MapTransferStatus(ev.Data.CurrentState)
		if !known {
			h.finish(c, audit, fmt.Sprintf("state %q is not mapped; no change applied", ev.Data.CurrentState))
			return
		}

		providerId := fmt.Sprintf("%d", ev.Data.Resource.Id)
		h.apply(c, audit, models.RailGlobalPay, providerId, mapped,
			"provider reported state "+ev.Data.CurrentState)
	}
}

func (h *Handler) apply(c *gin.Context, audit *models.WebhookEvent, rail models.PaymentRail, providerId string, status models.PayoutStatus, failureContext string) {
	ctx := c.Request.Context()

	rec, err := h.records.FindByProviderRef(ctx, rail, providerId)
	if err != nil {
		config.LogError(h.logger, "webhooks", "apply", "lookup record", providerId, err)
		h.finish(c, audit, "record lookup failed")
		return
	}
	if rec == nil {
		h.finish(c, audit, "no matching payment record")
		return
	}

	failureReason := ""
	if status == models.PayoutStatusFailed {
		failureReason = failureContext
	}
	if err := h.records.ApplyStatus(ctx, rec, status, failureReason); err != nil {
		config.LogError(h.logger, "webhooks", "apply", "apply status", providerId, err)
		h.finish(c, audit, "status update failed")
		return
	}
	h.finish(c, audit, "")
}

func (h *Handler) finish(c *gin.Context, audit *models.WebhookEvent, note string) {
	if err := h.events.MarkProcessed(c.Request.Context(), audit, note); err != nil {
		config.LogError(h.logger, "webhooks", "finish", "mark processed", audit.ProviderEventID, err)
	}
	ack(c, note)
}
