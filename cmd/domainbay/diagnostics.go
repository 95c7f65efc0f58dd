package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/totegamma/domainbay"
)

var settleFor time.Duration

func init() {
	diagnosticsCmd.Flags().DurationVar(&settleFor, "settle", 2*time.Second, "how long to listen for events before capturing")
	rootCmd.AddCommand(diagnosticsCmd)
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <identity>",
	Short: "Start a messaging session for an identity and print a diagnostics record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := args[0]
		if !domainbay.IsAddress(identity) {
			return fmt.Errorf("not an address: %s", identity)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		// a failed start is part of what the record reports
		if err := a.sync.Start(ctx, identity); err == nil && settleFor > 0 {
			select {
			case <-time.After(settleFor):
			case <-ctx.Done():
			}
		}

		record := a.recorder.Record(a.sync.Snapshot(), identity, a.runtime.Environment)
		out, err := record.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
