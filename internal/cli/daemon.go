package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/sync/events"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine until interrupted",
	Long: `Starts an actor for every enabled rule: local changes and poll timers
trigger reconciliations, and conflicts and errors are logged as they
surface. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := openApp()
		if err != nil {
			return err
		}
		defer application.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		engine := application.engine
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Stop()

		stream, cancelSub := engine.Bus().Subscribe(events.CategoryConflict, events.CategoryError)
		defer cancelSub()
		go func() {
			for ev := range stream {
				switch payload := ev.Payload.(type) {
				case events.ConflictDetected:
					logger.Warn("conflict detected",
						logging.F("rule", shortID(ev.RuleID)),
						logging.F("path", payload.Path),
						logging.F("reason", payload.Reason))
				case events.RuleError:
					logger.Error("rule failed",
						logging.F("rule", shortID(ev.RuleID)),
						logging.F("error", payload.Message))
				}
			}
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		fmt.Println("foldersync daemon running; press Ctrl-C to stop")
		<-sigs
		fmt.Println("shutting down")
		return nil
	},
}
