package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"leakwatch/internal/app"
	"leakwatch/internal/config"
	"leakwatch/internal/model"
)

var verbose bool

func main() {
	// A missing .env is fine; it only supplies LEAKWATCH_* overrides.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an LWApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "watch", "alerts").
func newApp(command string) (*app.LWApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewLWApp(cfg, command, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "leakwatch",
	Short:        "Watch directories for suspicious file activity",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := defaults.NewDefaultConfig()
		if paths, _ := cmd.Flags().GetStringSlice("path"); len(paths) > 0 {
			cfg.Monitor.Paths = paths
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the active configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		m := defaults.Map()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-12s %s\n", k, m[k])
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		fmt.Printf("%-12s %s\n", "host_id", cfg.HostID)
		fmt.Printf("%-12s %v\n", "paths", cfg.Monitor.Paths)
		fmt.Printf("%-12s %s\n", "hash", cfg.Monitor.HashAlgorithm)
		fmt.Printf("%-12s %s\n", "database", cfg.Database.Type)
		archive := cfg.Archive.Type
		if archive == "" {
			archive = "disabled"
		}
		fmt.Printf("%-12s %s\n", "archive", archive)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [PATH...]",
	Short: "Monitor directories until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("watch")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		onEvent := func(e model.FileEvent) error {
			printEvent(os.Stdout, &e, time.Now())
			return nil
		}
		onAlert := func(al model.Alert) error {
			printAlert(os.Stdout, &al, time.Now())
			return nil
		}

		roots, err := a.StartWatching(args, onEvent, onAlert)
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("Watching " + joinRoots(roots)))

		<-ctx.Done()
		stats := a.Stats()
		a.StopWatching()

		for root, st := range stats {
			fmt.Printf("%s: %d events, %d suspicious, %d alerts, %d hash failures, %d store failures, %d overflows\n",
				root, st.Events, st.Suspicious, st.Alerts, st.HashFailures, st.StoreFailures, st.Overflows)
		}
		return nil
	},
}

// events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded file events",
	RunE: func(cmd *cobra.Command, args []string) error {
		suspicious, _ := cmd.Flags().GetBool("suspicious")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")

		q := app.EventQuery{Suspicious: suspicious}
		var err error
		if fromStr != "" {
			if q.From, err = model.ParseBound(fromStr, false); err != nil {
				return err
			}
		}
		if toStr != "" {
			if q.To, err = model.ParseBound(toStr, true); err != nil {
				return err
			}
		}

		a, err := newApp("events")
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.Events(q)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		now := time.Now()
		for i, e := range events {
			if limit > 0 && i >= limit {
				fmt.Println(dimStyle.Render(fmt.Sprintf("... %d more", len(events)-limit)))
				break
			}
			printEvent(os.Stdout, e, now)
		}
		return nil
	},
}

// alerts command
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		open, _ := cmd.Flags().GetBool("open")

		a, err := newApp("alerts")
		if err != nil {
			return err
		}
		defer a.Close()

		alerts, err := a.Alerts(open)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts.")
			return nil
		}

		now := time.Now()
		for _, al := range alerts {
			printAlert(os.Stdout, al, now)
		}
		return nil
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack ID",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid alert id %q", args[0])
		}

		a, err := newApp("ack")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Acknowledge(id); err != nil {
			a.Fail()
			return err
		}
		fmt.Printf("Alert #%d acknowledged\n", id)
		return nil
	},
}

// fingerprints command
var fingerprintsCmd = &cobra.Command{
	Use:   "fingerprints",
	Short: "Find where content has been seen",
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, _ := cmd.Flags().GetString("hash")
		file, _ := cmd.Flags().GetString("file")
		if hash != "" && file != "" {
			return fmt.Errorf("--hash and --file are mutually exclusive")
		}

		a, err := newApp("fingerprints")
		if err != nil {
			return err
		}
		defer a.Close()

		if file != "" {
			if hash, err = a.HashFile(file); err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", titleStyle.Render(hash), file)
		}

		fps, err := a.Fingerprints(hash)
		if err != nil {
			return err
		}
		if len(fps) == 0 {
			fmt.Println("No fingerprints found.")
			return nil
		}
		for _, f := range fps {
			printFingerprint(os.Stdout, f)
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return fmt.Errorf("--days must be positive")
		}

		a, err := newApp("stats")
		if err != nil {
			return err
		}
		defer a.Close()

		to := time.Now().UTC()
		s, err := a.Summary(to.AddDate(0, 0, -days), to)
		if err != nil {
			return err
		}
		printSummary(os.Stdout, s)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := a.Serve(ctx); err != nil {
			return err
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy the event database into the configured archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("archive")
		if err != nil {
			return err
		}
		defer a.Close()

		obj, err := a.Snapshot(cmd.Context())
		if err != nil {
			a.Fail()
			return err
		}
		fmt.Print("Archived ")
		printObject(os.Stdout, *obj)
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("archive list")
		if err != nil {
			return err
		}
		defer a.Close()

		objs, err := a.Snapshots(cmd.Context())
		if err != nil {
			return err
		}
		if len(objs) == 0 {
			fmt.Println("No snapshots archived.")
			return nil
		}
		for _, o := range objs {
			printObject(os.Stdout, o)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug detail")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().StringSliceP("path", "p", nil, "Directory to monitor (repeatable)")

	// archive subcommands
	archiveCmd.AddCommand(archiveListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().BoolP("suspicious", "s", false, "Only suspicious events")
	eventsCmd.Flags().String("from", "", "Lower bound (RFC 3339 or YYYY-MM-DD)")
	eventsCmd.Flags().String("to", "", "Upper bound (RFC 3339 or YYYY-MM-DD, inclusive)")
	eventsCmd.Flags().IntP("limit", "n", 100, "Maximum number of events to show (0 for all)")
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().Bool("open", false, "Only unacknowledged alerts")
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(fingerprintsCmd)
	fingerprintsCmd.Flags().String("hash", "", "Content hash to look up")
	fingerprintsCmd.Flags().StringP("file", "f", "", "Hash this file and look up its content")
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntP("days", "d", 7, "Window size in days")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(archiveCmd)
}
