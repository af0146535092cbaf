package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/app"
	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/platform/db"
	"github.com/akaunkita/finledger/internal/pos"
	"github.com/akaunkita/finledger/internal/posting"
	"github.com/akaunkita/finledger/internal/reconcile"
	"github.com/akaunkita/finledger/internal/shared"
)

// Demo data for a single company: invoices, a week of POS takings with a
// refund, and an open reconciliation session over the bank account.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	// Seeding runs alone, so the in-process company guard is enough.
	services, err := app.BuildServices(cfg, app.Infra{Pool: pool, Logger: app.NewLogger(cfg)})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}

	actor := shared.Actor{
		CompanyID: parseOr(os.Getenv("SEED_COMPANY_ID"), uuid.MustParse("7b0c1c1e-3d1f-4a53-9c1e-2f4f7e9a0001")),
		UserID:    uuid.MustParse("7b0c1c1e-3d1f-4a53-9c1e-2f4f7e9a0002"),
	}
	start := time.Now().UTC().AddDate(0, 0, -7).Truncate(24 * time.Hour)

	fmt.Println("→ Seeding invoices...")
	if err := seedInvoices(ctx, services.Posting, actor, start); err != nil {
		log.Fatalf("seed invoices: %v", err)
	}

	fmt.Println("→ Seeding POS takings...")
	if err := seedPOS(ctx, services, actor, start); err != nil {
		log.Fatalf("seed pos: %v", err)
	}

	fmt.Println("→ Opening reconciliation session...")
	session, err := services.Reconcile.CreateSession(ctx, actor, reconcile.CreateSessionInput{
		BankAccountRef: "MBB-514000112233",
		DateFrom:       start,
		DateTo:         start.AddDate(0, 0, 6),
		OpeningBalance: decimal.RequireFromString("5000.00"),
		ClosingBalance: decimal.RequireFromString("7360.40"),
		Notes:          "seeded",
	})
	if err != nil {
		log.Fatalf("seed reconciliation: %v", err)
	}
	fmt.Printf("✓ Seed complete for company %s (session %s)\n", actor.CompanyID, session.ID)
}

func seedInvoices(ctx context.Context, poster *posting.Poster, actor shared.Actor, start time.Time) error {
	invoices := []posting.Invoice{
		{Number: "INV-1001", CustomerName: "Syarikat Maju Sdn Bhd", Subtotal: decimal.RequireFromString("1000.00"), TaxAmount: decimal.RequireFromString("80.00"), Total: decimal.RequireFromString("1080.00")},
		{Number: "INV-1002", CustomerName: "Kedai Runcit Ah Seng", Subtotal: decimal.RequireFromString("250.00"), Total: decimal.RequireFromString("250.00")},
	}
	for i, inv := range invoices {
		inv.ID = uuid.NewString()
		inv.Currency = "MYR"
		inv.Date = start.AddDate(0, 0, i)
		if _, err := poster.PostInvoice(ctx, actor, inv, ledger.StatusPosted); err != nil {
			return fmt.Errorf("%s: %w", inv.Number, err)
		}
	}
	return nil
}

func seedPOS(ctx context.Context, services *app.Services, actor shared.Actor, start time.Time) error {
	var raws []pos.RawSale
	for day := 0; day < 5; day++ {
		at := start.AddDate(0, 0, day).Add(11 * time.Hour)
		for n := 0; n < 3; n++ {
			raws = append(raws, pos.RawSale{
				ID:       fmt.Sprintf("seed-%d-%d", day, n),
				StoreID:  "store-ss2",
				DateTime: at.Add(time.Duration(n) * time.Hour).Format(time.RFC3339),
				Items: []pos.RawItem{
					{Line: 1, Name: "Nasi Lemak", Qty: 2, Price: 8.5, Tax: 1.02},
					{Line: 2, Name: "Teh Tarik", Qty: 1, Price: 3.2, Discount: 0.2},
				},
			})
		}
	}
	raws = append(raws, pos.RawSale{
		ID:             "seed-refund-1",
		StoreID:        "store-ss2",
		DateTime:       start.Add(15 * time.Hour).Format(time.RFC3339),
		Refund:         true,
		OriginalSaleID: "seed-0-0",
		Items:          []pos.RawItem{{Line: 1, Name: "Teh Tarik", Qty: 1, Price: 3.2}},
	})

	res, err := services.POSSyncer.Ingest(ctx, actor.CompanyID, raws)
	if err != nil {
		return err
	}
	fmt.Printf("  ingested %d, skipped %d, errors %d\n", res.Created, res.Skipped, res.Errors)

	for day := 0; day < 5; day++ {
		out, err := services.POSPoster.PostDaily(ctx, actor, pos.PostDailyInput{BusinessDate: start.AddDate(0, 0, day)})
		if err != nil {
			return err
		}
		fmt.Printf("  posted %s as %s\n", out.BusinessDate, out.LedgerEntryID)
	}
	return nil
}

func parseOr(raw string, fallback uuid.UUID) uuid.UUID {
	if id, err := uuid.Parse(raw); err == nil {
		return id
	}
	return fallback
}
