package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapback/internal/app"
	"snapback/internal/config"
	"snapback/internal/prune"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// exitStatus is the worst status of the command that ran.
var exitStatus int

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		exitStatus = max(exitStatus, 1)
	}
	os.Exit(exitStatus)
}

// loadConfig reads the config file, falling back to defaults when it does not exist.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := app.LoadConfig(defaults)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp creates an App for cfg. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Purge").
func newApp(cfg *config.Config, operation string, args []string) (*app.App, error) {
	a, err := app.NewApp(cfg, operation, args, app.StdStreams())
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// applyVolume overrides the configured volume with --volume.
func applyVolume(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("volume") {
		cfg.Volume, _ = cmd.Flags().GetString("volume")
	}
}

var rootCmd = &cobra.Command{
	Use:           "snapback",
	Short:         "Hard-link snapshot backups of remote hosts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup HOST...",
	Short: "Snapshot the filesystems of one or more hosts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyVolume(cmd, cfg)

		opts := app.BackupOptions{Jobs: cfg.Jobs, Random: cfg.Random, User: cfg.User}
		opts.Update, _ = cmd.Flags().GetBool("update")
		opts.Link, _ = cmd.Flags().GetString("link")
		if cmd.Flags().Changed("jobs") {
			opts.Jobs, _ = cmd.Flags().GetInt("jobs")
		}
		if cmd.Flags().Changed("random") {
			opts.Random, _ = cmd.Flags().GetBool("random")
		}
		if cmd.Flags().Changed("user") {
			opts.User, _ = cmd.Flags().GetString("user")
		}
		if opts.Jobs < 1 {
			return fmt.Errorf("--jobs must be at least 1, got %d", opts.Jobs)
		}

		a, err := newApp(cfg, "Backup", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Failures were already logged per host; only the status remains.
		if err := a.Backup(ctx, args, opts); err != nil {
			exitStatus = max(a.Status(), 1)
			return nil
		}
		exitStatus = a.Status()
		return nil
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge HOST",
	Short: "Remove snapshots the retention policy no longer keeps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyVolume(cmd, cfg)

		var opts prune.Options
		opts.Yes, _ = cmd.Flags().GetBool("yes")
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

		a, err := newApp(cfg, "Purge", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Purge(args[0], opts); err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
		return nil
	},
}

// offline command
var offlineCmd = &cobra.Command{
	Use:   "offline VAULT",
	Short: "Archive the latest snapshot of every host to a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyVolume(cmd, cfg)

		a, err := newApp(cfg, "Offline", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Offline(ctx, args[0]); err != nil {
			return fmt.Errorf("offline export failed: %w", err)
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore VAULT HOST SNAPSHOT DEST",
	Short: "Unpack an archived snapshot from a vault into an empty directory",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var passphrase string
		if cfg.Encryption.Type == "age" {
			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return errors.New("restore needs a terminal to read the passphrase")
			}
			fmt.Print("Passphrase: ")
			p, err := term.ReadPassword(fd)
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading passphrase: %w", err)
			}
			passphrase = string(p)
		}

		a, err := newApp(cfg, "Restore", args)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Restore(ctx, args[0], args[1], args[2], args[3], passphrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [RUN-ID]",
	Short: "View backup run history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		host, _ := cmd.Flags().GetString("host")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, "History", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			results, err := a.RunDetails(args[0])
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No filesystems recorded for this run.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%3d  %-8s  %3d  %-30s  %s\n", r.Position, r.State, r.Status, r.Spec, r.Error)
			}
			return nil
		}

		runs, err := a.History(host, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No backup runs recorded.")
			return nil
		}
		for _, r := range runs {
			duration := r.FinishedAt.Sub(r.StartedAt).Truncate(time.Second).String()
			snapshot := r.Snapshot
			if snapshot == "" {
				snapshot = "-"
			}
			fmt.Printf("%s  %-20s  %s  %-13s  %3d  %s\n",
				r.ID,
				r.Host,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				snapshot,
				r.Status,
				duration,
			)
		}
		return nil
	},
}

var historyBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a copy of the history database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, "HistoryBackup", args)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupHistory(args[0]); err != nil {
			return err
		}
		fmt.Printf("History written to %s\n", args[0])
		return nil
	},
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

		cfg := config.NewConfig(defaults["base_dir"], defaults["volume"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Volume:   %s\n", cfg.Volume)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := app.LoadConfig(defaults)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		return (&config.Manager{}).Write(os.Stdout, cfg)
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the age key pair for offline archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return errors.New("keygen needs a terminal to read the passphrase")
		}
		fmt.Print("Passphrase: ")
		first, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		fmt.Print("Repeat passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return errors.New("passphrases do not match")
		}

		recipient, err := app.Keygen(cfg.Encryption, string(first))
		if err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Recipient:   %s\n", recipient)
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		if cfg.Encryption.Type != "age" {
			fmt.Println(`Set type = "age" under [encryption] to encrypt offline archives.`)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)

	// root commands
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringP("volume", "v", app.DefaultVolume, "Backup volume")
	backupCmd.Flags().IntP("jobs", "j", 1, "Number of filesystems to copy in parallel")
	backupCmd.Flags().BoolP("update", "u", false, "Update the last snapshot instead of creating a new one")
	backupCmd.Flags().BoolP("random", "r", false, "Process filesystems in random order")
	backupCmd.Flags().StringP("link", "l", "", "Also link the new snapshot under this name")
	backupCmd.Flags().String("user", "", "Remote login user")

	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().StringP("volume", "v", app.DefaultVolume, "Backup volume")
	purgeCmd.Flags().BoolP("yes", "y", false, "Remove without asking")
	purgeCmd.Flags().BoolP("dry-run", "n", false, "Show what would be removed")

	rootCmd.AddCommand(offlineCmd)
	offlineCmd.Flags().StringP("volume", "v", app.DefaultVolume, "Backup volume")

	rootCmd.AddCommand(restoreCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyBackupCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	historyCmd.Flags().String("host", "", "Only show runs of this host")

	rootCmd.AddCommand(configCmd)
}
