// Command brewcore-admin is the operator CLI for a brewcore data
// directory: it runs migrations, manages tenants, and inspects stored
// collections without going through an embedding application.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"brewcore/internal/archive"
	"brewcore/internal/journal"
	"brewcore/internal/schema"
	"brewcore/internal/storage"
	"brewcore/internal/tenant"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// fileConfig is the YAML shape of the optional --config file. Flags win
// over file values.
type fileConfig struct {
	Root        string `yaml:"root"`
	LockDir     string `yaml:"lock_dir"`
	LockTimeout string `yaml:"lock_timeout"`
	TemplateDir string `yaml:"template_dir"`
	Journal     bool   `yaml:"journal"`
	Verbose     bool   `yaml:"verbose"`
}

type app struct {
	configPath string
	root       string
	lockDir    string
	timeout    time.Duration
	template   string
	useJournal bool
	verbose    bool

	factory *tenant.Factory
	logger  *slog.Logger
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		raw, err := os.ReadFile(a.configPath)
		if err != nil {
			return fmt.Errorf("read config %s: %w", a.configPath, err)
		}
		var cfg fileConfig
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", a.configPath, err)
		}
		if a.root == "" {
			a.root = cfg.Root
		}
		if a.lockDir == "" {
			a.lockDir = cfg.LockDir
		}
		if a.template == "" {
			a.template = cfg.TemplateDir
		}
		if !cmd.Flags().Changed("journal") {
			a.useJournal = cfg.Journal
		}
		if !cmd.Flags().Changed("verbose") {
			a.verbose = cfg.Verbose
		}
		if a.timeout == 0 && cfg.LockTimeout != "" {
			d, err := time.ParseDuration(cfg.LockTimeout)
			if err != nil {
				return fmt.Errorf("parse lock_timeout: %w", err)
			}
			a.timeout = d
		}
	}
	if a.root == "" {
		return fmt.Errorf("data root required (--root or config file)")
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := archive.Open(cmd.Context())
	if err != nil {
		return fmt.Errorf("open archive store: %w", err)
	}
	a.factory, err = tenant.New(tenant.Options{
		Root:          a.root,
		Schemas:       schema.Builtin(),
		TemplateDir:   a.template,
		Archive:       store,
		EnableJournal: a.useJournal,
		LockDir:       a.lockDir,
		LockTimeout:   a.timeout,
		Logger:        a.logger,
		Metrics:       storage.NopMetrics{},
	})
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "brewcore-admin",
		Short:         "Administer a brewcore data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&a.root, "root", "", "data root directory")
	root.PersistentFlags().StringVar(&a.lockDir, "lock-dir", "", "lock file directory (defaults to the OS temp dir)")
	root.PersistentFlags().DurationVar(&a.timeout, "lock-timeout", 0, "file lock acquisition timeout")
	root.PersistentFlags().StringVar(&a.template, "template-dir", "", "baseline dataset for tenant initialization")
	root.PersistentFlags().BoolVar(&a.useJournal, "journal", false, "enable the per-tenant audit journal")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newTenantsCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newJournalCmd(a))
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "migrate [tenant]",
		Short:   "Run pending schema migrations",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var tenants []string
			switch {
			case all:
				var err error
				if tenants, err = a.factory.Tenants(); err != nil {
					return err
				}
			case len(args) == 1:
				tenants = args
			default:
				return fmt.Errorf("specify a tenant or --all")
			}
			for _, id := range tenants {
				mgr, err := a.factory.Migrator(id)
				if err != nil {
					return err
				}
				needed, err := mgr.NeedsMigration()
				if err != nil {
					return err
				}
				if !needed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: up to date\n", id)
					continue
				}
				if err := a.factory.MigrateTenant(ctx, id); err != nil {
					return fmt.Errorf("tenant %s: %w", id, err)
				}
				version, err := mgr.DataVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: migrated to %s\n", id, version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "migrate every tenant under the data root")
	return cmd
}

func newTenantsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenant directories",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List tenants under the data root",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenants, err := a.factory.Tenants()
			if err != nil {
				return err
			}
			for _, id := range tenants {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "init <tenant>",
		Short:   "Create a tenant from the baseline template",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.factory.InitializeFromTemplate(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "delete <tenant>",
		Short:   "Delete a tenant and all its data",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.factory.DeleteTenant(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "cleanup",
		Short:   "Remove all ephemeral (tmp-) tenants",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := a.factory.CleanupEphemeralTenants()
			for _, id := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
			}
			return err
		},
	})
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <tenant> <entity>",
		Short:   "Print a collection as JSON",
		Args:    cobra.ExactArgs(2),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.factory.Repository(args[0], args[1])
			if err != nil {
				return err
			}
			records, err := repo.FindAll(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}
}

func newJournalCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "journal <tenant>",
		Short:   "Show recent audit journal entries",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			jnl, err := a.factory.Journal(args[0])
			if err != nil {
				return err
			}
			if jnl == nil {
				return fmt.Errorf("journal disabled; pass --journal")
			}
			changes, err := jnl.Tail(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printChanges(cmd, changes)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func printChanges(cmd *cobra.Command, changes []journal.Change) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, c := range changes {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}
