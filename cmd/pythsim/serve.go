package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/pkg/rpc"
	"github.com/fortiblox/pythsim/pkg/sandbox"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var slotInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox and serve JSON-RPC",
		Long: `Open the sandbox and serve its state over JSON-RPC until interrupted.

With --slot-interval the sandbox advances one slot per interval, so
published prices age the way they would on a live cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, slotInterval)
		},
	}

	cmd.Flags().String("rpc-addr", "127.0.0.1:8899", "JSON-RPC listen address")
	cmd.Flags().DurationVar(&slotInterval, "slot-interval", 0, "advance one slot per interval (0 disables)")
	if err := a.v.BindPFlag("rpc.addr", cmd.Flags().Lookup("rpc-addr")); err != nil {
		panic(err)
	}
	return cmd
}

func (a *app) serve(ctx context.Context, slotInterval time.Duration) error {
	log := logging.WithComponent("serve")

	sb, err := a.openSandbox()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		if err := sb.Close(); err != nil {
			log.WithError(err).Warn("close sandbox")
		}
	}()

	if slotInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			advanceSlots(ctx, sb, slotInterval, log)
		}()
	}

	server := rpc.New(a.cfg.RPCServer(), sb)
	log.WithFields(logrus.Fields{
		"addr":   a.cfg.RPC.Addr,
		"oracle": sb.OracleProgramID(),
		"slot":   sb.Slot(),
	}).Info("sandbox serving")
	return server.Start(ctx)
}

// advanceSlots moves the sandbox forward one slot per tick until ctx ends.
func advanceSlots(ctx context.Context, sb *sandbox.Sandbox, interval time.Duration, log *logrus.Entry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := sb.AdvanceSlot(); err != nil {
				log.WithError(err).Warn("advance slot")
			}
		case <-ctx.Done():
			return
		}
	}
}
