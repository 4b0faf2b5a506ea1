package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/payouts_backend/billtrack"
	"bitbucket.org/mmdatafocus/payouts_backend/config"
	"bitbucket.org/mmdatafocus/payouts_backend/controls"
	"bitbucket.org/mmdatafocus/payouts_backend/globalpay"
	"bitbucket.org/mmdatafocus/payouts_backend/ledgerhq"
	"bitbucket.org/mmdatafocus/payouts_backend/meridian"
	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"bitbucket.org/mmdatafocus/payouts_backend/payouts"
)

// Polls the rails for payment records stuck in processing. Webhooks normally
// close these out; this tool covers deliveries that never arrived.
func main() {
	olderThan := flag.Duration("older-than", time.Hour, "only poll records whose execution is older than this")
	dryRun := flag.Bool("dry-run", false, "list matching records without polling the rails")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	store := models.NewPayoutStore(db)
	recipientStore := models.NewRecipientStore(db)
	tenantStore := models.NewTenantStore(db)

	billSource := billtrack.NewClient(config.LoadBillTrackConfig())
	accounting := ledgerhq.NewClient(config.LoadLedgerHQConfig())
	usRail := meridian.NewClient(config.LoadMeridianConfig())
	crossRail := globalpay.NewClient(config.LoadGlobalPayConfig())
	mailer := payouts.NewSMTPMailer(config.LoadSMTPConfig())

	engine := controls.NewEngine(accounting, usRail, crossRail, recipientStore, store, logger)
	svc := payouts.NewService(billSource, tenantStore, engine, usRail, crossRail, recipientStore, store, nil, mailer, logger)

	ctx := context.Background()
	cutoff := time.Now().Add(-*olderThan)
	records, err := store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing stale records: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("found %d processing record(s) older than %s\n", len(records), olderThan)

	var refreshed, failed int
	for _, rec := range records {
		if *dryRun {
			fmt.Printf("would poll: id=%d tenant=%s bill=%s rail=%s providerId=%s executedAt=%s\n",
				rec.ID, rec.TenantCode, rec.SourceBillId, rec.Rail, rec.ProviderPaymentId, rec.ExecutedAt)
			continue
		}
		before := rec.Status
		if err := svc.Refresh(ctx, rec); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "poll failed for record %d (bill %s): %v\n", rec.ID, rec.SourceBillId, err)
			continue
		}
		refreshed++
		if rec.Status != before {
			fmt.Printf("record %d (bill %s): %s -> %s\n", rec.ID, rec.SourceBillId, before, rec.Status)
		}
	}
	if !*dryRun {
		fmt.Printf("polled %d record(s), %d failure(s)\n", refreshed, failed)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
