package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/app"
	"github.com/iliamunaev/tap-checkout/internal/checkout"
	"github.com/iliamunaev/tap-checkout/internal/config"
	"github.com/iliamunaev/tap-checkout/internal/connection"
	"github.com/iliamunaev/tap-checkout/internal/money"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

func chargeCmd(c *cli) *cobra.Command {
	var amount int64
	var failStep string

	cmd := &cobra.Command{
		Use:     "charge",
		Short:   "Connect a reader and charge one amount",
		PreRunE: c.load,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer c.sync()
			if failStep != "" {
				c.cfg.Reader.Simulated.FailStep = failStep
				if err := c.cfg.Validate(); err != nil {
					return err
				}
			}
			return runCharge(cmd.Context(), c.cfg, c.log, money.Cents(amount), cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Amount in minor units, e.g. 1250 for 12.50")
	cmd.Flags().StringVar(&failStep, "fail-step", "", "Make the simulated reader fail at create, collect, cancel or confirm")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// runCharge waits for the reader, runs one checkout and prints the result.
// Status lines are streamed to out while it waits.
// Canceled is not an error; every other non-success outcome is.
func runCharge(ctx context.Context, cfg *config.Config, log *zap.Logger, amount money.Cents, out io.Writer, opts ...app.Option) error {
	a, err := app.New(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	updates, unsubscribe := a.Status.Subscribe()
	defer unsubscribe()
	st := &statusPrinter{out: out, updates: updates}

	if err := st.until(ctx, a.Connection.EnsureConnected()); err != nil {
		return err
	}
	if a.Connection.State() != connection.Connected {
		return fmt.Errorf("reader not ready: %s", a.Status.Current().Text)
	}

	cctx, cancel := context.WithTimeout(ctx, a.RequestTimeout)
	defer cancel()

	done := make(chan struct{})
	var res checkout.Result
	go func() {
		defer close(done)
		res = a.Checkout.Checkout(cctx, amount)
	}()
	// The checkout context bounds the attempt, so done always closes.
	_ = st.until(context.Background(), done)

	fmt.Fprintf(out, "%s %s\n", res.Outcome, money.Format(amount, a.Currency))
	if res.AttemptID != "" {
		fmt.Fprintf(out, "  attempt: %s\n", res.AttemptID)
	}
	if res.Intent.ID != "" {
		fmt.Fprintf(out, "  intent:  %s (%s)\n", res.Intent.ID, res.Intent.Status)
	}
	for _, s := range res.Steps {
		fmt.Fprintf(out, "  %-8s %-8s %4dms %s\n", s.Name, s.Status, s.DurationMS, s.Detail)
	}
	fmt.Fprintf(out, "  status:  %s\n", a.Status.Current().Text)

	switch res.Outcome {
	case checkout.Succeeded, checkout.Canceled:
		return nil
	}
	return fmt.Errorf("checkout %s: %w", res.Outcome, res.Err)
}

// statusPrinter writes status updates as they arrive. Updates already
// printed are skipped by sequence number.
type statusPrinter struct {
	out     io.Writer
	updates <-chan status.Update
	last    uint64
}

// until prints updates until done is closed, then prints the latest update
// if it has not been printed yet.
func (p *statusPrinter) until(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case u := <-p.updates:
			p.print(u)
		case <-done:
			select {
			case u := <-p.updates:
				p.print(u)
			default:
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *statusPrinter) print(u status.Update) {
	if u.Seq != 0 && u.Seq <= p.last {
		return
	}
	p.last = u.Seq
	fmt.Fprintf(p.out, "  > %s\n", u.Text)
}
