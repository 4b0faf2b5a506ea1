package main

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// exportPayoutsHandler writes the payout register as an xlsx workbook, one row
// per payment record, optionally filtered by ?tenant=.
func exportPayoutsHandler(store *models.PayoutStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := store.ListAll(c.Request.Context(), c.Query("tenant"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"
		if _, err := f.NewSheet(sheet); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		headers := []string{"Tenant", "BillId", "Payee", "Amount", "Status", "Rail", "ProviderPaymentId", "ExecutedBy", "ExecutedAt", "PaidAt", "FailureReason"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			f.SetCellValue(sheet, cell, h)
		}

		for i, rec := range records {
			row := i + 2
			f.SetCellValue(sheet, "A"+fmt.Sprint(row), rec.TenantCode)
			f.SetCellValue(sheet, "B"+fmt.Sprint(row), rec.SourceBillId)
			f.SetCellValue(sheet, "C"+fmt.Sprint(row), rec.PayeeName)
			f.SetCellValue(sheet, "D"+fmt.Sprint(row), rec.Amount.StringFixed(2))
			f.SetCellValue(sheet, "E"+fmt.Sprint(row), string(rec.Status))
			f.SetCellValue(sheet, "F"+fmt.Sprint(row), string(rec.Rail))
			f.SetCellValue(sheet, "G"+fmt.Sprint(row), rec.ProviderPaymentId)
			f.SetCellValue(sheet, "H"+fmt.Sprint(row), rec.ExecutedBy)
			f.SetCellValue(sheet, "I"+fmt.Sprint(row), formatTime(rec.ExecutedAt))
			f.SetCellValue(sheet, "J"+fmt.Sprint(row), formatTime(rec.PaidAt))
			f.SetCellValue(sheet, "K"+fmt.Sprint(row), rec.FailureReason)
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=payout-register.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write workbook"})
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
