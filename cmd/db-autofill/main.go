package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vitebski/db-autofill/internal/analyzer"
	"github.com/vitebski/db-autofill/internal/config"
	"github.com/vitebski/db-autofill/internal/connector"
	"github.com/vitebski/db-autofill/internal/generator"
	"github.com/vitebski/db-autofill/internal/populator"
	"github.com/vitebski/db-autofill/internal/utils"
	"github.com/vitebski/db-autofill/pkg/models"
)

const defaultConfigFile = "autofill.json"

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveRecords picks the default row count: the --records flag, then AUTOFILL_RECORDS, then the config file
func resolveRecords(flagChanged bool, flagValue, configured int) int {
	if flagChanged {
		return flagValue
	}
	if n, ok := utils.LookupEnvInt("AUTOFILL_RECORDS"); ok {
		return n
	}
	return configured
}

func main() {
	var (
		configFile  string
		driver      string
		host        string
		user        string
		password    string
		database    string
		port        string
		records     int
		batchSize   int
		workers     int
		maxRetries  int
		seed        int64
		envFile     string
		logLevel    string
		reportFile  string
		analyzeOnly bool
		verify      bool
		assumeYes   bool
	)

	exitCode := 0

	rootCmd := &cobra.Command{
		Use:   "db-autofill",
		Short: "Fill relational database tables with valid generated rows",
		Long: `Database Autofill

Fills the requested tables of a MySQL, PostgreSQL or SQLite database with
generated rows that satisfy NOT NULL, unique, foreign key and simple CHECK
constraints. Referenced tables are read for existing keys and filled first.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			// Setup logging
			logger := utils.SetupLogging(logLevel)

			// Load environment variables
			utils.LoadEnvironmentVariables(envFile, logger)

			// The default config file is optional
			path := configFile
			if !cmd.Flags().Changed("config") {
				if _, err := os.Stat(path); err != nil {
					path = ""
				}
			}

			cfg, err := config.Load(path)
			if err != nil {
				logger.Errorf("Invalid configuration: %v", err)
				exitCode = 1
				return
			}

			cfg.Defaults.RowCount = resolveRecords(cmd.Flags().Changed("records"), records, cfg.Defaults.RowCount)
			if cmd.Flags().Changed("batch-size") {
				cfg.Defaults.BatchSize = batchSize
			}
			if cmd.Flags().Changed("workers") {
				cfg.Defaults.Workers = workers
			}
			if cmd.Flags().Changed("max-retries") {
				cfg.Defaults.MaxRetries = maxRetries
			}
			if cmd.Flags().Changed("seed") {
				cfg.Defaults.Seed = seed
			}
			if err := cfg.Validate(); err != nil {
				logger.Errorf("Invalid configuration: %v", err)
				exitCode = 1
				return
			}

			// Flags win over the environment, which wins over the config file
			driver = firstNonEmpty(driver, os.Getenv("DB_DRIVER"), cfg.Database.Driver)
			host = firstNonEmpty(host, os.Getenv("DB_HOST"), cfg.Database.Host)
			user = firstNonEmpty(user, os.Getenv("DB_USER"), cfg.Database.User)
			password = firstNonEmpty(password, os.Getenv("DB_PASSWORD"), cfg.Database.Password)
			database = firstNonEmpty(database, os.Getenv("DB_NAME"), cfg.Database.Name)
			port = firstNonEmpty(port, os.Getenv("DB_PORT"), cfg.Database.Port)

			// Validate connection parameters
			if !utils.ValidateConnectionParams(driver, host, user, password, database, port, logger) {
				exitCode = 1
				return
			}

			if !analyzeOnly {
				if err := utils.ConfirmRemoteHost(driver, host, assumeYes); err != nil {
					logger.Error(err)
					exitCode = 1
					return
				}
			}

			// Create database connector
			db := connector.NewDatabaseConnector(driver, host, user, password, database, port, logger)
			db.Schema = cfg.Database.Schema
			db.SSLMode = cfg.Database.SSLMode
			if err := db.Connect(); err != nil {
				logger.Errorf("Failed to connect to database: %v", err)
				exitCode = 1
				return
			}
			defer db.Disconnect()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			dbPopulator := populator.NewDatabasePopulator(
				db,
				analyzer.NewSchemaAnalyzer(db, logger),
				generator.NewRegistry(logger),
				cfg,
				logger,
			)

			// If analyze-only mode, print the plan and exit here
			if analyzeOnly {
				plan, err := dbPopulator.Prepare(ctx)
				if err != nil {
					logger.Errorf("Failed to analyze schema: %v", err)
					exitCode = 1
					return
				}
				utils.PrintSchemaAnalysis(plan.Schema, plan.Order, analyzer.FillLevels(plan.Schema, plan.Order))
				logger.Info("Analyze-only mode, exiting without populating data")
				return
			}

			// Populate database
			logger.Info("Starting database population...")
			report, err := dbPopulator.PopulateDatabase(ctx)
			if err != nil {
				if models.IsConfigurationFatal(err) {
					color.Red("Nothing was inserted: %v", err)
				} else {
					logger.Errorf("Population aborted: %v", err)
				}
				exitCode = 1
				if report == nil {
					return
				}
			}

			// Print summary
			utils.PrintSummary(report)

			if reportFile != "" {
				if err := utils.WriteReport(reportFile, report); err != nil {
					logger.Errorf("Failed to write report: %v", err)
					exitCode = 1
				} else {
					logger.Infof("Report written to %s", reportFile)
				}
			}

			// Verify row counts if requested
			if verify {
				ok, issues := utils.VerifyRowCounts(ctx, db, report, logger)
				utils.PrintVerificationResults(issues)
				if !ok {
					exitCode = 1
				}
			}

			// Return appropriate exit code
			if !report.Succeeded() {
				exitCode = 1
			}
		},
	}

	// Define flags
	rootCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigFile, "Path to a JSON or YAML configuration file")
	rootCmd.Flags().StringVar(&driver, "driver", "", "Database driver: mysql, postgres or sqlite (default: postgres)")
	rootCmd.Flags().StringVarP(&host, "host", "H", "", "Database host (default: localhost)")
	rootCmd.Flags().StringVarP(&user, "user", "u", "", "Database user")
	rootCmd.Flags().StringVarP(&password, "password", "p", "", "Database password")
	rootCmd.Flags().StringVarP(&database, "database", "d", "", "Database name, or file path for SQLite")
	rootCmd.Flags().StringVarP(&port, "port", "P", "", "Database port (default: driver's standard port)")
	rootCmd.Flags().IntVarP(&records, "records", "r", 50, "Default number of rows per requested table (env: AUTOFILL_RECORDS)")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 500, "Rows inserted per transaction")
	rootCmd.Flags().IntVar(&workers, "workers", 1, "Tables filled concurrently within one dependency level")
	rootCmd.Flags().IntVarP(&maxRetries, "max-retries", "m", 3, "Retries for a batch that failed with a transient error")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for reproducible data (0: time based)")
	rootCmd.Flags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&reportFile, "report-file", "", "Write the run report to a .yaml or .json file")
	rootCmd.Flags().BoolVarP(&analyzeOnly, "analyze-only", "a", false, "Only analyze the database schema without populating data")
	rootCmd.Flags().BoolVarP(&verify, "verify", "v", false, "Verify that every table grew by the reported number of rows")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before writing to a remote host")

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
