// Command oversell_check drives many concurrent checkouts against one
// product with limited stock and verifies that no unit is sold twice
// and that the inventory ledger still replays to the stored quantity.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/rl1809/order-fulfillment/internal/adapter/notify"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/port"
)

var address = domain.Address{
	FirstName:  "Load",
	LastName:   "Test",
	Street:     "1 Warehouse Way",
	City:       "Berlin",
	PostalCode: "10115",
	Country:    "DE",
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	initialStock := flag.Int("stock", 20, "units of the product on hand")
	buyers := flag.Int("buyers", 50, "concurrent checkouts, one unit each")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}
	ctx := context.Background()

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		fail("%v", err)
	}
	db, err := sql.Open(dialect.DriverName(), cfg.Database.DSN)
	if err != nil {
		fail("open database: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		fail("connect redis: %v", err)
	}
	defer rdb.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Real()
	store := storage.NewSQLStore(db, dialect, clk)
	if err := store.Migrate(ctx); err != nil {
		fail("apply schema: %v", err)
	}
	cache := storage.NewRedisAdapter(rdb)

	audit := service.NewAuditService(store, clk, logger)
	locks := service.NewCartLockService(cache, audit, clk, cfg.Checkout.CartLockTTL, logger)
	notifier := service.NewNotificationService(store, notify.NewLogChannel(logger), clk, service.DefaultNotificationConfig(), nil, logger)
	notifier.Start(ctx)
	defer notifier.Close()

	carts := service.NewCartService(store, store, locks, clk, logger)
	checkout := service.NewCheckoutService(store, cache, store, locks, store, notify.DefaultQuoter(), notifier, clk,
		service.CheckoutConfig{SessionTTL: cfg.Checkout.SessionTTL}, nil, logger)
	inventory := service.NewInventoryService(store, audit, nil, logger)

	// Setup
	productID := "oversell-" + uuid.NewString()[:8]
	if err := inventory.Register(ctx, domain.InventoryLevel{
		ProductID:         productID,
		SKU:               productID,
		Name:              "Oversell check item",
		StockQuantity:     *initialStock,
		LowStockThreshold: 1,
	}, "oversell_check"); err != nil {
		fail("register product: %v", err)
	}
	if err := store.SaveProduct(ctx, port.ProductSnapshot{
		ID: productID, SKU: productID, Name: "Oversell check item",
		Price: decimal.RequireFromString("19.99"), Active: true,
	}); err != nil {
		fail("save product: %v", err)
	}

	sessions := make([]string, 0, *buyers)
	for i := 0; i < *buyers; i++ {
		id, err := prepareCheckout(ctx, carts, checkout, productID, i)
		if err != nil {
			fail("prepare checkout %d: %v", i, err)
		}
		sessions = append(sessions, id)
	}

	var successCount, shortCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range sessions {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			_, err := checkout.ConfirmPayment(ctx, domain.PaymentConfirmed{
				SessionID:       sessionID,
				PaymentIntentID: "pi_" + sessionID,
				PaymentMethod:   "credit_card",
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				errorCount.Add(1)
				fmt.Fprintf(os.Stderr, "session %s: %v\n", sessionID, err)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	expectedSuccess := min(*initialStock, *buyers)
	success, short, failed := int(successCount.Load()), int(shortCount.Load()), int(errorCount.Load())

	fmt.Println("========== OVERSELL CHECK RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Checkouts:        %d\n", *buyers)
	fmt.Printf("Orders Placed:    %d\n", success)
	fmt.Printf("Out Of Stock:     %d\n", short)
	fmt.Printf("Errors:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("============================================")

	passed := true
	if success == expectedSuccess && short == *buyers-expectedSuccess && failed == 0 {
		fmt.Printf("PASS: exactly %d orders placed\n", expectedSuccess)
	} else {
		passed = false
		fmt.Printf("FAIL: expected %d placed/%d out of stock, got %d/%d (%d errors)\n",
			expectedSuccess, *buyers-expectedSuccess, success, short, failed)
	}

	level, err := inventory.GetLevel(ctx, productID)
	if err != nil {
		fail("read stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", level.StockQuantity)
	if level.StockQuantity == *initialStock-expectedSuccess {
		fmt.Println("PASS: stock matches placed orders")
	} else {
		passed = false
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-expectedSuccess, level.StockQuantity)
	}

	if err := inventory.VerifyConservation(ctx, productID); err != nil {
		passed = false
		fmt.Printf("FAIL: %v\n", err)
	} else {
		fmt.Println("PASS: ledger replays to stored stock")
	}

	if !passed {
		os.Exit(1)
	}
}

func prepareCheckout(ctx context.Context, carts *service.CartService, checkout *service.CheckoutService,
	productID string, buyer int) (string, error) {
	cart, err := carts.CreateCart(ctx, "", fmt.Sprintf("oversell-buyer-%d-%s", buyer, uuid.NewString()[:8]))
	if err != nil {
		return "", err
	}
	if _, err := carts.AddItem(ctx, cart.ID, "", productID, 1); err != nil {
		return "", err
	}

	started, err := checkout.Start(ctx, service.StartCheckoutRequest{
		CartID: cart.ID,
		Email:  fmt.Sprintf("buyer-%d@example.com", buyer),
	})
	if err != nil {
		return "", err
	}
	id := started.Session.ID

	if _, _, err := checkout.SetShipping(ctx, id, domain.ShippingInfo{
		Address: address,
		Method:  &domain.ShippingMethod{ID: "standard"},
	}); err != nil {
		return "", err
	}
	return id, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
