package main

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/payouts"
	"bitbucket.org/mmdatafocus/payouts_backend/utils"
	"github.com/gin-gonic/gin"
)

func controlsHandler(svc *payouts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := svc.RunControls(c.Request.Context(), c.Param("billId"))
		if err != nil {
			if utils.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

type payRequest struct {
	ProcessDate string `json:"processDate"`
}

// payHandler executes the payout. Gating failures come back as a structured
// PaymentResult, not an HTTP error: the controls verdict is the response body
// the operator acts on.
func payHandler(svc *payouts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
				return
			}
		}

		var processDate *time.Time
		if req.ProcessDate != "" {
			parsed, err := time.Parse("2006-01-02", req.ProcessDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "processDate must be YYYY-MM-DD"})
				return
			}
			processDate = &parsed
		}

		result := svc.PayBill(c.Request.Context(), c.Param("billId"), processDate)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, result)
	}
}

func statusHandler(svc *payouts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.PaymentStatus(c.Request.Context(), c.Param("billId"))
		if err != nil {
			if utils.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no payment record exists for this bill"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func mfaChallengeHandler(client *meridian.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		challengeId, err := client.MFAChallenge(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challengeId": challengeId})
	}
}

type mfaValidateRequest struct {
	ChallengeId string `json:"challengeId" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

func mfaValidateHandler(client *meridian.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mfaValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		trustToken, err := client.MFAValidate(c.Request.Context(), req.ChallengeId, req.Code)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		// Returned so operators can persist it as MERIDIAN_MFA_TRUST_TOKEN and
		// skip the challenge after the next restart.
		c.JSON(http.StatusOK, gin.H{"trustToken": trustToken})
	}
}
