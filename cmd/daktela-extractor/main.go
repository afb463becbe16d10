package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/clients"
	"github.com/keboola/component-daktela/pkg/config"
	"github.com/keboola/component-daktela/pkg/daktela"
	"github.com/keboola/component-daktela/pkg/errors"
	"github.com/keboola/component-daktela/pkg/extractor"
	"github.com/keboola/component-daktela/pkg/logger"
	"github.com/keboola/component-daktela/pkg/sink"
	"github.com/keboola/component-daktela/pkg/state"
)

var version = "1.0.0"

// Exit codes: 0 success, 1 user error (credentials, configuration),
// 2 application error.
const (
	exitOK        = 0
	exitUserError = 1
	exitAppError  = 2
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "daktela-extractor",
		Short: "Daktela contact center data extractor",
		Long: `daktela-extractor pulls users, accounts, contacts, tickets, statuses and
activity data out of a Daktela instance through its API v6 and writes one CSV
table per endpoint.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("daktela-extractor v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var listConfigFile string
	listCmd := &cobra.Command{
		Use:   "list-endpoints",
		Short: "List the built-in extractable endpoints",
		Long: `List the built-in extractable endpoints. With --config the command logs in
and samples one record per endpoint to discover its available fields.`,
		Run: func(cmd *cobra.Command, args []string) {
			if listConfigFile == "" {
				for _, ep := range config.BuiltinEndpoints() {
					if ep.IsDependent() {
						fmt.Printf("  - %s (dependent on %s)\n", ep.Name, ep.Parent)
					} else {
						fmt.Printf("  - %s\n", ep.Name)
					}
				}
				return
			}
			os.Exit(listFields(listConfigFile))
		},
	}
	listCmd.Flags().StringVarP(&listConfigFile, "config", "c", "", "Configuration file enabling live field discovery")
	root.AddCommand(listCmd)

	var configFile string
	var timeout time.Duration

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction",
		Long: `Run an extraction with the given configuration file. Credentials can be
supplied through the file, ${VAR} references inside it, or DAKTELA_* environment
variables.

Example:
  daktela-extractor run --config config.yml`,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(run(configFile, timeout))
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration YAML file (required)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "Overall extraction timeout")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
}

// loadConfig reads the YAML configuration and layers DAKTELA_* environment
// variables over the connection section.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.New()
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("DAKTELA")
	v.AutomaticEnv()
	if server := v.GetString("SERVER"); server != "" {
		cfg.Connection.Server = server
	}
	if username := v.GetString("USERNAME"); username != "" {
		cfg.Connection.Username = username
	}
	if password := v.GetString("PASSWORD"); password != "" {
		cfg.Connection.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

// listFields samples one record per selected endpoint and prints its field
// names. Dependent endpoints are skipped since they need a parent id.
func listFields(configFile string) int {
	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}
	cfg.Advanced.PageSize = 1

	if err := logger.Init(logger.Config{Level: "warn", Encoding: cfg.Logging.Encoding}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitAppError
	}

	endpoints, unknown, err := config.ResolveEndpoints(cfg.DataSelection)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}
	for _, name := range unknown {
		fmt.Printf("%s: (unknown endpoint, skipped)\n", name)
	}
	if len(endpoints) == 0 {
		fmt.Fprintln(os.Stderr, "no known endpoints selected")
		return exitUserError
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.InsecureSkipVerify = cfg.Connection.InsecureSkipVerify
	httpClient := clients.NewHTTPClient(httpCfg, logger.Get())
	defer httpClient.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := daktela.NewClient(cfg, httpClient)
	if err := client.Login(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.IsUserError(err) {
			return exitUserError
		}
		return exitAppError
	}

	for _, ep := range endpoints {
		if ep.IsDependent() {
			fmt.Printf("%s: (dependent on %s, fields follow the parent record)\n", ep.Name, ep.Parent)
			continue
		}
		page, _, err := client.FetchPage(ctx, ep, 0, daktela.DateFilter{})
		if err != nil {
			fmt.Printf("%s: error: %v\n", ep.Name, err)
			continue
		}
		if len(page.Data) == 0 {
			fmt.Printf("%s: (no records)\n", ep.Name)
			continue
		}
		fields := make([]string, 0, len(page.Data[0]))
		for field := range page.Data[0] {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		fmt.Printf("%s: %s\n", ep.Name, strings.Join(fields, ", "))
	}
	return exitOK
}

func run(configFile string, timeout time.Duration) int {
	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitAppError
	}
	defer logger.Sync() //nolint:errcheck

	log := logger.With(zap.String("component", "daktela-extractor"))

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.Advanced.RequestTimeout
	httpCfg.InsecureSkipVerify = cfg.Connection.InsecureSkipVerify
	if cfg.Advanced.RateLimitPerSec > 0 {
		httpCfg.RateLimit = float64(cfg.Advanced.RateLimitPerSec)
		httpCfg.RateBurst = cfg.Advanced.RateLimitPerSec
	}
	httpClient := clients.NewHTTPClient(httpCfg, logger.Get())
	defer httpClient.Close() //nolint:errcheck

	client := daktela.NewClient(cfg, httpClient)

	endpoints, unknown, err := config.ResolveEndpoints(cfg.DataSelection)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}
	for _, name := range unknown {
		log.Warn("skipping unknown endpoint", zap.String("endpoint", name))
	}
	primaryKeys := make(map[string][]string, len(endpoints))
	server := cfg.ServerName()
	for _, ep := range endpoints {
		table := ep.Name
		if server != "" {
			table = server + "_" + ep.Name
		}
		primaryKeys[table] = []string{"id"}
	}

	// Column order from the previous run keeps headers stable across runs
	var prevColumns map[string][]string
	if cfg.Destination.StateFile != "" {
		prev, err := state.Load(cfg.Destination.StateFile)
		if err != nil {
			log.Warn("failed to read previous run state", zap.Error(err))
		} else if prev != nil {
			prevColumns = prev.Columns
		}
	}

	csvSink, err := sink.NewCSVSink(sink.Options{
		Dir:           cfg.Destination.OutputDir,
		Gzip:          cfg.Destination.Gzip,
		WriteManifest: cfg.Destination.WriteManifest,
		Incremental:   cfg.Destination.Incremental,
		PrimaryKeys:   primaryKeys,
		Columns:       prevColumns,
	})
	if err != nil {
		log.Error("failed to create sink", zap.Error(err))
		return exitAppError
	}

	ex, err := extractor.New(cfg, client, csvSink)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUserError
	}

	start := time.Now()
	runState, runErr := ex.Run(ctx)

	// Successful tables were already finalized during the run; this closes
	// whatever an aborted endpoint left open, without writing manifests.
	if err := csvSink.Close(); err != nil {
		log.Error("failed to close sink", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	if runState != nil && cfg.Destination.StateFile != "" {
		runState.Columns = csvSink.Columns()
		if err := state.Save(cfg.Destination.StateFile, runState); err != nil {
			log.Warn("failed to write run state", zap.Error(err))
		}
	}

	if runErr != nil {
		log.Error("extraction failed", zap.Error(runErr))
		if errors.IsUserError(runErr) {
			return exitUserError
		}
		return exitAppError
	}

	total, failed := httpClient.Stats()
	log.Info("extraction completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("tables", len(runState.Tables)),
		zap.Int("total_rows", runState.TotalRows),
		zap.Int64("requests", total),
		zap.Int64("failed_requests", failed))
	return exitOK
}
