package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/financial-tracker/internal/assets"
	"github.com/smartdevs17/financial-tracker/internal/config"
	"github.com/smartdevs17/financial-tracker/internal/storage"
	"github.com/smartdevs17/financial-tracker/internal/topology"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tracker",
		Short:         "Personal finance tracker",
		Long:          `A personal finance tracker: accounts, transactions, categories, balances and currency conversion over a REST API.`,
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("env-file", ".env", "env file loaded before configuration")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")
	rootCmd.PersistentFlags().String("variant", "", "deployment variant (fixed, parameterized)")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("variant", rootCmd.PersistentFlags().Lookup("variant"))

	rootCmd.AddCommand(
		newStartCmd(),
		newServeCmd(),
		newWaitCmd(),
		newMigrateCmd(),
		newCollectStaticCmd(),
		newCurrenciesCmd(),
		newManifestCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig loads the env file and configuration, then applies the flag
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(viper.GetString("env-file")); err != nil {
		return nil, err
	}

	cfg, err := config.LoadVariant(viper.GetString("config"), viper.GetString("variant"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = logrus.DebugLevel.String()
	}
	return cfg, nil
}

// variantName resolves the deployment variant from the flag or
// TRACKER_VARIANT.
func variantName() string {
	if v := viper.GetString("variant"); v != "" {
		return strings.ToLower(v)
	}
	if v := os.Getenv("TRACKER_VARIANT"); v != "" {
		return strings.ToLower(v)
	}
	return config.VariantFixed
}

// withApplication loads configuration, builds the application and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func withApplication(cmd *cobra.Command, fn func(ctx context.Context, app *Application) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, app)
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Wait for dependencies, migrate, collect static files and serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				seq, err := app.Sequence()
				if err != nil {
					return err
				}
				_, err = seq.Run(ctx)
				return err
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newWaitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait",
		Short: "Block until the configured dependencies are ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				if err := app.WaitForDependencies(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All dependencies are ready")
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}

	migrator := func(cmd *cobra.Command) (*storage.Migrator, error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		if err := initLogger(cfg.Logging); err != nil {
			return nil, err
		}
		return storage.NewMigrator(cfg.Database.URL, cfg.Database.MigrationsTable)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer mg.Close()

			applied, err := mg.Up()
			if err != nil {
				return err
			}
			if applied {
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to apply")
			}
			return nil
		},
	}

	downCmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return utils.NewAppError(utils.ErrCodeValidation, "Steps must be a positive integer", args[0])
				}
				steps = n
			}

			mg, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer mg.Close()

			if err := mg.Down(steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := migrator(cmd)
			if err != nil {
				return err
			}
			defer mg.Close()

			status, err := mg.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %d\n", status.Version)
			fmt.Fprintf(out, "Latest:  %d\n", status.Latest)
			fmt.Fprintf(out, "Dirty:   %t\n", status.Dirty)
			fmt.Fprintf(out, "Pending: %t\n", status.Pending)
			return nil
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, statusCmd)
	return migrateCmd
}

func newCollectStaticCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collectstatic",
		Short: "Copy the embedded static files to the static root",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			if root == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				root = cfg.Startup.StaticRoot
			}

			result, err := assets.Collect(root)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d static file(s) copied, %d unchanged, to %s\n",
				result.Copied, result.Unchanged, root)
			return nil
		},
	}
	cmd.Flags().String("root", "", "target directory (defaults to STATIC_ROOT)")
	return cmd
}

func newCurrenciesCmd() *cobra.Command {
	currenciesCmd := &cobra.Command{
		Use:   "currencies",
		Short: "Exchange rate management",
	}

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh exchange rates from the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				result, err := app.currencies.UpdateDatabase(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rates from %s: %d processed, %d created, %d failed\n",
					result.Source, result.Processed, result.Created, result.Failed)
				return nil
			})
		},
	}

	currenciesCmd.AddCommand(updateCmd)
	return currenciesCmd
}

func newManifestCmd() *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Render deployment manifests",
	}

	composeCmd := &cobra.Command{
		Use:   "compose",
		Short: "Render the compose file for a variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			variant := variantName()

			stack, err := topology.New(variant, topology.DefaultOptions())
			if err != nil {
				return err
			}

			resolve, _ := cmd.Flags().GetBool("resolve")
			if resolve {
				if stack, err = stack.Resolve(os.LookupEnv); err != nil {
					return err
				}
			}

			// Host ports are only known once variables are substituted
			if resolve || variant == config.VariantFixed {
				port, _ := cmd.Flags().GetInt("port")
				if err := stack.Validate(port); err != nil {
					return err
				}
			}

			data, err := stack.Compose()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	composeCmd.Flags().Bool("resolve", false, "substitute environment variables and fail on missing ones")
	composeCmd.Flags().Int("port", topology.WebPort, "port the web process binds")

	dockerfileCmd := &cobra.Command{
		Use:   "dockerfile",
		Short: "Render the container build file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), topology.DefaultBuild().Dockerfile())
			return err
		},
	}

	manifestCmd.AddCommand(composeCmd, dockerfileCmd)
	return manifestCmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Report every deployment variable at once, not just the ones
			// the process itself reads
			if err := topology.CheckEnv(variantName(), os.LookupEnv); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid!\n")
			fmt.Fprintf(out, "Variant: %s\n", cfg.App.Variant)
			fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
			fmt.Fprintf(out, "Database: %s\n", cfg.Database.RedactedURL())
			fmt.Fprintf(out, "Server: %s\n", cfg.Server.Address())
			fmt.Fprintf(out, "Static root: %s\n", cfg.Startup.StaticRoot)
			return nil
		},
	}

	configCmd.AddCommand(validateCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Financial Tracker %s\n", AppVersion)
		},
	}
}

// main is the entry point
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
