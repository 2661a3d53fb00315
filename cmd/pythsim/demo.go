package main

import (
	"fmt"
	"io"

	"github.com/fortiblox/pythsim/pkg/sandbox"
	"github.com/fortiblox/pythsim/pkg/svm/programs/pyth"
	"github.com/spf13/cobra"
)

const demoAirdrop = 10_000_000_000

type demoOptions struct {
	price    int64
	exponent int32
	slot     uint64
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Create a price account, publish a price and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.demo(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().Int64Var(&opts.price, "price", 15, "price to publish")
	cmd.Flags().Int32Var(&opts.exponent, "exponent", 0, "exponent sent with the price")
	cmd.Flags().Uint64Var(&opts.slot, "slot", 7, "slot to publish at")
	return cmd
}

func (a *app) demo(out io.Writer, opts demoOptions) error {
	sb, err := a.openSandbox()
	if err != nil {
		return err
	}
	defer sb.Close()

	payer, err := a.payer()
	if err != nil {
		return err
	}
	if err := payer.Airdrop(sb, demoAirdrop); err != nil {
		return err
	}

	account, err := sb.NewPriceAccount(payer)
	if err != nil {
		return err
	}
	if opts.slot > sb.Slot() {
		if _, err := sb.WarpToSlot(opts.slot); err != nil {
			return err
		}
	}
	res, err := account.PublishPrice(payer, opts.price, opts.exponent)
	if err != nil {
		return err
	}

	price, err := account.Load()
	if err != nil {
		return err
	}
	printPrice(out, account, price)
	fmt.Fprintf(out, "signature:    %s\n", res.Signature)
	fmt.Fprintf(out, "compute:      %d units\n", res.ComputeUnitsConsumed)
	for _, line := range res.Logs {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}

func printPrice(out io.Writer, account *sandbox.PriceAccount, p *pyth.Price) {
	value, conf, _ := p.Aggregate.Value(p.Exponent)
	fmt.Fprintf(out, "account:      %s\n", account.Pubkey())
	fmt.Fprintf(out, "type:         %s v%d\n", p.AccountType, p.Version)
	fmt.Fprintf(out, "price:        %d\n", p.Aggregate.Price)
	fmt.Fprintf(out, "confidence:   %d\n", p.Aggregate.Confidence)
	fmt.Fprintf(out, "exponent:     %d\n", p.Exponent)
	fmt.Fprintf(out, "value:        %s +/- %s\n", value, conf)
	fmt.Fprintf(out, "status:       %s\n", p.Aggregate.Status)
	fmt.Fprintf(out, "publish slot: %d\n", p.Aggregate.PublishSlot)
}
