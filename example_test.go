package paywall_test

import (
	"context"
	"fmt"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/receipt"
	"github.com/erasekit/paywall/store/memory"
)

func Example() {
	ctx := context.Background()

	verifier := receipt.NewStatic().Accept("receipt-data", "credits_10", "1000000001")
	engine := paywall.New(memory.New(),
		paywall.WithLogger(quiet),
		paywall.WithFreeUsageLimit(1),
		paywall.WithVerifier(verifier),
	)
	if err := engine.Start(ctx); err != nil {
		panic(err)
	}
	defer engine.Stop()

	edit := func(context.Context) error { return nil }

	status, _ := engine.ConsumeUsage(ctx, "install-1", edit)
	fmt.Println("free remaining:", status.FreeRemaining)

	_, err := engine.ConsumeUsage(ctx, "install-1", edit)
	fmt.Println("second edit:", err)

	res, _ := engine.VerifyAndApplyPurchase(ctx, paywall.PurchaseRequest{
		InstallID: "install-1",
		Platform:  "ios",
		ProductID: "credits_10",
		Receipt:   "receipt-data",
	})
	fmt.Println("credits added:", res.CreditsAdded)

	status, _ = engine.ConsumeUsage(ctx, "install-1", edit)
	fmt.Println("credits left:", status.Credits)

	// Output:
	// free remaining: 0
	// second edit: paywall: free quota exhausted and no credits
	// credits added: 10
	// credits left: 9
}
