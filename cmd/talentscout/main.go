package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/browser"
	"github.com/ternarybob/talentscout/internal/common"
	"github.com/ternarybob/talentscout/internal/export"
	"github.com/ternarybob/talentscout/internal/llm"
	"github.com/ternarybob/talentscout/internal/scraper"
	badgerstore "github.com/ternarybob/talentscout/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	headless     = flag.Bool("headless", false, "Run browsers headless (overrides config)")
	maxRecords   = flag.Int("max", 0, "Record cap (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("TalentScout version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("talentscout.toml"); err == nil {
			configFiles = append(configFiles, "talentscout.toml")
		}
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> files -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
	}

	if isFlagSet("headless") {
		config.Fleet.Headless = *headless
	}
	if *maxRecords > 0 {
		config.Search.MaxRecords = *maxRecords
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Run failed")
	}
}

func run(ctx context.Context) error {
	snapshot := export.NewSnapshot(config.Search.SnapshotPath, logger)

	storage, err := badgerstore.NewManager(logger, &config.Storage.Badger, snapshot)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Warn().Err(err).Msg("Storage close failed")
		}
	}()

	advisor, err := llm.NewAdvisor(&config.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize advisory oracle: %w", err)
	}
	defer advisor.Close()

	pacing := browser.NewPacing(config.Pacing, func() int {
		count, err := storage.Records().Count()
		if err != nil {
			return 0
		}
		return count
	})

	newDriver := func(ctx context.Context) (scraper.Driver, error) {
		return browser.NewChrome(ctx, browser.Config{
			Headless:   config.Fleet.Headless,
			DisableGPU: config.Fleet.Headless,
			NoSandbox:  config.IsProduction(),
		}, pacing, logger)
	}

	fleet := scraper.NewFleet(config, storage.Records(), advisor, newDriver, pacing, logger)
	if err := fleet.Run(ctx); err != nil {
		return err
	}

	count, err := storage.Records().Count()
	if err != nil {
		return fmt.Errorf("failed to read final record count: %w", err)
	}
	logger.Info().
		Int("records", count).
		Str("snapshot", config.Search.SnapshotPath).
		Msg("Collection complete")

	return nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
