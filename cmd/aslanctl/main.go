package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/coltonsakamoto/aslanpay"
)

const usage = `usage:
  aslanctl run    --merchant <m> --amount <usd> --category <c> --intent <text> [--agent <id>] [--final <usd>] [--fail]
  aslanctl limits
  aslanctl release --grant <id> [--reason <text>]

environment: ASLANPAY_TOKEN, ASLANPAY_BASE_URL`

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := aslanpay.LoadConfig()
	if err != nil {
		red.Fprintln(os.Stderr, "config: "+err.Error())
		os.Exit(1)
	}
	client := aslanpay.New(cfg)

	switch os.Args[1] {
	case "run":
		runPurchase(client, os.Args[2:])
	case "limits":
		showLimits(client)
	case "release":
		releaseGrant(client, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

// runPurchase drives one full authorize-execute-confirm cycle with a
// simulated execution adapter, for poking at a tower from the terminal.
func runPurchase(client *aslanpay.Client, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	merchant := fs.String("merchant", "", "merchant domain")
	amount := fs.Float64("amount", 0, "requested amount in USD")
	category := fs.String("category", "", "purchase category")
	intentText := fs.String("intent", "", "free-text purchase intent")
	agent := fs.String("agent", "aslanctl", "agent identity for the idempotency key")
	final := fs.Float64("final", -1, "final charged amount (defaults to --amount)")
	fail := fs.Bool("fail", false, "simulate a failed execution")
	_ = fs.Parse(args)

	if strings.TrimSpace(*merchant) == "" || strings.TrimSpace(*category) == "" || strings.TrimSpace(*intentText) == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	intent := aslanpay.PurchaseIntent{
		Merchant: *merchant,
		Amount:   aslanpay.USD(*amount),
		Category: *category,
		Intent:   *intentText,
	}

	adapter := aslanpay.AdapterFunc(func(_ context.Context, g *aslanpay.Grant, _ aslanpay.PurchaseIntent) (aslanpay.ExecutionResult, error) {
		if *fail {
			return aslanpay.ExecutionResult{Succeeded: false, Err: "simulated execution failure"}, nil
		}
		charged := *final
		if charged < 0 {
			charged = g.RequestedAmount
		}
		return aslanpay.ExecutionResult{
			Succeeded:   true,
			FinalAmount: charged,
			Evidence:    map[string]any{"source": "aslanctl", "simulated": true},
		}, nil
	})

	o := aslanpay.NewOrchestrator(client, adapter)
	out := o.Run(context.Background(), *agent, intent)
	printOutcome(out)
	if !out.Succeeded() {
		os.Exit(1)
	}
}

func printOutcome(out aslanpay.Outcome) {
	switch {
	case out.Succeeded():
		green.Printf("confirmed")
		fmt.Printf("  txn=%s charged=$%.2f fee=$%.2f total=$%.2f", out.TransactionID, out.Amount, out.PlatformFee, out.TotalCharged)
		if out.PaymentMethod != "" {
			fmt.Printf(" via %s", out.PaymentMethod)
		}
		if out.Idempotent {
			yellow.Printf("  (idempotent replay)")
		}
		fmt.Println()
	case out.State == aslanpay.StateAwaitingApproval:
		yellow.Printf("awaiting approval")
		fmt.Printf("  approval=%s estimated=$%.2f\n", out.ApprovalID, out.EstimatedAmount)
	default:
		red.Printf("%s", out.State)
		if out.Failure != nil {
			fmt.Printf("  [%s/%s] %s", out.Failure.Kind, out.Failure.Phase, out.Failure.Message)
		}
		if out.GrantID != "" {
			fmt.Printf("  grant=%s", out.GrantID)
		}
		fmt.Println()
	}
}

func showLimits(client *aslanpay.Client) {
	l, err := client.GetSpendingLimits(context.Background())
	if err != nil {
		red.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Printf("daily limit:        $%.2f\n", l.DailyLimit)
	fmt.Printf("per transaction:    $%.2f\n", l.TransactionLimit)
	fmt.Printf("spent today:        $%.2f\n", l.SpentToday)
	fmt.Printf("remaining today:    $%.2f\n", l.RemainingDaily)
	for cat, lim := range l.CategoryLimits {
		fmt.Printf("category %-10s $%.2f\n", cat+":", lim)
	}
}

func releaseGrant(client *aslanpay.Client, args []string) {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	grantID := fs.String("grant", "", "grant id to release")
	reason := fs.String("reason", "released from aslanctl", "release reason")
	_ = fs.Parse(args)

	if strings.TrimSpace(*grantID) == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := client.Release(context.Background(), *grantID, *reason); err != nil {
		red.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	green.Printf("released")
	fmt.Printf("  grant=%s\n", *grantID)
}
