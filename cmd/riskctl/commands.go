package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-core/cmd/common"
	"github.com/ducminhle1904/crypto-risk-core/pkg/reporting"
)

type rootOptions struct {
	addr    string
	token   string
	timeout time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	client := func() *Client { return NewClient(opts.addr, opts.token, opts.timeout) }

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Operate a running risk engine through its control API",
		Long: `riskctl inspects and controls a running risk engine.

Examples:
  riskctl status
  riskctl stop "exchange incident"
  riskctl resume
  RISK_OVERRIDE_TOKEN=... riskctl arm --reset-peak "reviewed drawdown"
  riskctl export snapshots.xlsx`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("RISKCTL_ADDR", "http://127.0.0.1:8080"), "control API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RISK_OVERRIDE_TOKEN"), "operator override token for arm")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newStatusCmd(client),
		newStopCmd(client),
		newResumeCmd(client),
		newArmCmd(client),
		newTripsCmd(client),
		newPerformanceCmd(client),
		newExportCmd(client),
		newVersionCmd(),
	)
	return root
}

func newStatusCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show breaker, emergency stop, connectivity and drawdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			reporting.RenderStatus(cmd.OutOrStdout(), status)

			stats, err := c.Engine(cmd.Context())
			var apiErr *APIError
			switch {
			case err == nil:
				reporting.RenderEngine(cmd.OutOrStdout(), stats)
			case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
			default:
				return err
			}
			return nil
		},
	}
}

func newStopCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [reason]",
		Short: "Raise the emergency stop and flatten positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Stop(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.FirstActivation {
				fmt.Fprintf(out, "Emergency stop raised: %s\n", resp.Flag.Reason)
			} else {
				fmt.Fprintf(out, "Emergency stop already active since %s: %s\n",
					resp.Flag.ActivatedAt.Format(time.RFC3339), resp.Flag.Reason)
			}
			if resp.FlattenError != "" {
				fmt.Fprintf(out, "WARNING: flatten failed: %s\n", resp.FlattenError)
			}
			return nil
		},
	}
}

func newResumeCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear the emergency stop (the breaker is not touched)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := client().Resume(cmd.Context())
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				fmt.Fprintln(cmd.OutOrStdout(), "Emergency stop is not active")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Emergency stop cleared, breaker %s, trading %s\n",
				status.Breaker.State, tradingWord(status.MayTrade))
			return nil
		},
	}
}

func newArmCmd(client func() *Client) *cobra.Command {
	var resetPeak bool
	cmd := &cobra.Command{
		Use:   "arm [reason]",
		Short: "Re-arm the circuit breaker before its cooldown ends (requires the override token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if c.token == "" {
				return errors.New("override token required: pass --token or set RISK_OVERRIDE_TOKEN")
			}
			status, err := c.Arm(cmd.Context(), strings.Join(args, " "), resetPeak)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Breaker %s, drawdown %.2f%%, trading %s\n",
				status.Breaker.State, status.Drawdown.DrawdownPct*100, tradingWord(status.MayTrade))
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetPeak, "reset-peak", false, "restart drawdown measurement from current equity")
	return cmd
}

func newTripsCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "trips",
		Short: "List circuit breaker trips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trips, err := client().Trips(cmd.Context())
			if err != nil {
				return err
			}
			reporting.RenderTrips(cmd.OutOrStdout(), trips)
			return nil
		},
	}
}

func newPerformanceCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Show an on-demand performance snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := client().Performance(cmd.Context())
			if err != nil {
				return err
			}
			reporting.RenderPerformance(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newExportCmd(client func() *Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Export snapshot history and trips to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			snaps, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			trips, err := c.Trips(cmd.Context())
			if err != nil {
				return err
			}
			if err := reporting.WriteSnapshotsXLSX(args[0], snaps, trips); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d snapshots and %d trips to %s\n", len(snaps), len(trips), args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent snapshots to export, 0 = all")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			common.PrintVersion("riskctl")
		},
	}
}

func tradingWord(mayTrade bool) string {
	if mayTrade {
		return "allowed"
	}
	return "halted"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func execute(ctx context.Context, out io.Writer, args []string) error {
	root := newRootCmd(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
