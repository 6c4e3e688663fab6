package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kmetric/sessiond/internal/config"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/spf13/cobra"
)

var (
	checkUserID    string
	checkOrgID     string
	checkChartType string
	checkChartName string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Inspect session keys and usage interactively",
	Long:  `Inspect the session keys sessiond derives for an identity, or the usage recorded for a date.`,
}

var checkKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Show derived session keys for an identity",
	Example: `  sessiond check key --user alice --org org1
  sessiond check key --user alice --org org1 --chart-type hospital --chart-name smith`,
	RunE: runCheckKey,
}

var checkUsageCmd = &cobra.Command{
	Use:   "usage [DATE]",
	Short: "Show recorded usage for a date (default: today)",
	Example: `  sessiond check usage
  sessiond -c config.yaml check usage 2026-08-01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckUsage,
}

func init() {
	checkKeyCmd.Flags().StringVar(&checkUserID, "user", "", "User ID (required)")
	checkKeyCmd.Flags().StringVar(&checkOrgID, "org", "", "Organization ID (required)")
	checkKeyCmd.Flags().StringVar(&checkChartType, "chart-type", "", "Chart type (optional)")
	checkKeyCmd.Flags().StringVar(&checkChartName, "chart-name", "", "Chart name (optional)")
	_ = checkKeyCmd.MarkFlagRequired("user")
	_ = checkKeyCmd.MarkFlagRequired("org")

	checkCmd.AddCommand(checkKeyCmd)
	checkCmd.AddCommand(checkUsageCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckKey(cmd *cobra.Command, args []string) error {
	identity := session.Identity{
		UserID:    checkUserID,
		OrgID:     checkOrgID,
		ChartType: checkChartType,
		ChartName: checkChartName,
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	userKey, err := session.DeriveKey(session.TypeUser, identity)
	if err != nil {
		return fmt.Errorf("failed to derive user key: %w", err)
	}
	_, _ = cyan.Fprint(os.Stdout, "user key:  ")
	_, _ = green.Fprintln(os.Stdout, userKey)

	if checkChartType != "" || checkChartName != "" {
		chartKey, err := session.DeriveKey(session.TypeChart, identity)
		if err != nil {
			return fmt.Errorf("failed to derive chart key: %w", err)
		}
		_, _ = cyan.Fprint(os.Stdout, "chart key: ")
		_, _ = green.Fprintln(os.Stdout, chartKey)
	}

	return nil
}

func runCheckUsage(cmd *cobra.Command, args []string) error {
	date := time.Now().UTC().Format("2006-01-02")
	if len(args) == 1 {
		parsed, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", args[0])
		}
		date = parsed.Format("2006-01-02")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Usage().ListByDate(context.Background(), date)
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintf(os.Stdout, "Usage for %s (%d entries)\n", date, len(entries))

	var totalMS int64
	for _, entry := range entries {
		total := entry.TotalMS + entry.CurrentSessionMS
		totalMS += total
		fmt.Fprintf(os.Stdout, "  %-60s %8.1fs", entry.Key, float64(total)/1000.0)
		if entry.CurrentSessionMS > 0 {
			_, _ = color.New(color.FgYellow).Fprintf(os.Stdout, "  (open: %.1fs)", float64(entry.CurrentSessionMS)/1000.0)
		}
		fmt.Fprintln(os.Stdout)
	}

	fmt.Fprintf(os.Stdout, "Total: %.1fs\n", float64(totalMS)/1000.0)
	return nil
}
