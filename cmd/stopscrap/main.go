package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adiftools/stopscrap/internal/core"
	"github.com/adiftools/stopscrap/internal/gtfs"
	"github.com/adiftools/stopscrap/internal/models"
	"github.com/adiftools/stopscrap/internal/scrap"
	"github.com/adiftools/stopscrap/internal/storage"
	"github.com/adiftools/stopscrap/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	// global flags
	configFile   string
	logLevel     string
	databasePath string

	// scrap and daemon flags
	stopsFile string
	outputDir string
	headless  bool

	// import-gtfs flags
	feedURL     string
	insecureTLS bool

	// import-stops flags
	feedPath string

	// import-urls flags
	seedFile     string
	skipExisting bool

	// import-realtime flags
	realtimeURL    string
	realtimeFormat string

	// check-urls flags
	checkInsecure bool

	// inspect flags
	inspectFeed  string
	inspectRoute string
	inspectTrip  string
)

// appConfig is populated by the root PersistentPreRunE before any RunE
var appConfig *core.AppConfig

var rootCmd = &cobra.Command{
	Use:   "stopscrap",
	Short: "Renfe station scraper and GTFS toolkit",
	Long: `stopscrap captures Adif station pages on a rolling schedule and keeps
the station database fed from Renfe's GTFS exports.

Typical flow:
  stopscrap import-gtfs -u https://example.com/google_transit.zip
  stopscrap import-stops
  stopscrap import-urls -f configs/urls_renfe.json
  stopscrap scrap -s configs/stops.json

Version: ` + Version,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version and schema print static text, no config or logging needed
		if cmd.Name() == "version" || cmd.Name() == "schema" {
			return nil
		}

		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		config.MergeCLIFlags(stopsFile, outputDir, databasePath, headless, cmd.Flags().Changed("headless"))
		if err := config.Validate(); err != nil {
			return err
		}

		logConfig := utils.LogConfig{
			Level:      config.Log.Level,
			LogDir:     config.Log.Dir,
			MaxSize:    config.Log.Rotation.MaxSize,
			MaxBackups: config.Log.Rotation.MaxBackups,
			MaxAge:     config.Log.Rotation.MaxAge,
			Compress:   config.Log.Rotation.Compress,
		}
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("initialising logging: %w", err)
		}

		appConfig = config
		return nil
	},
}

var scrapCmd = &cobra.Command{
	Use:   "scrap",
	Short: "Visit every stop's pages on a rolling schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, _, cleanup, err := buildScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signalContext()
		defer cancel()

		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var importGTFSCmd = &cobra.Command{
	Use:   "import-gtfs",
	Short: "Download the static GTFS feed, deduplicating unchanged days",
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedURL != "" {
			appConfig.GTFS.URL = feedURL
		}
		if cmd.Flags().Changed("insecure") {
			appConfig.GTFS.Insecure = insecureTLS
		}
		if err := ValidateFeedURL(appConfig.GTFS.URL); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		path, err := downloadFeed(ctx)
		if err != nil {
			return err
		}
		log.Info().Msgf("feed ready at %s", path)
		return nil
	},
}

var importStopsCmd = &cobra.Command{
	Use:   "import-stops",
	Short: "Load stops and levels from a downloaded feed into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := feedPath
		if target == "" {
			if appConfig.GTFS.URL == "" {
				return errors.New("no --feed given and gtfs.url is not configured")
			}
			target = gtfs.FindLatest(appConfig.GTFS.Dir, feedBasename(appConfig.GTFS.URL))
			if target == "" {
				return fmt.Errorf("no downloaded feed under %s, run import-gtfs first", appConfig.GTFS.Dir)
			}
			log.Info().Msgf("using latest feed %s", target)
		}

		store, err := storage.Open(appConfig.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := signalContext()
		defer cancel()

		_, err = gtfs.NewImporter(store).ImportStops(ctx, target)
		return err
	},
}

var importURLsCmd = &cobra.Command{
	Use:   "import-urls",
	Short: "Seed scrap URLs from a JSON file into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(seedFile)
		if err != nil {
			return fmt.Errorf("opening seed file: %w", err)
		}
		defer f.Close()

		urls, err := models.DecodeSeedURLs(f)
		if err != nil {
			return err
		}

		store, err := storage.Open(appConfig.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if _, err := store.SeedURLs(ctx, urls, skipExisting); err != nil {
			return err
		}
		return nil
	},
}

var importRealtimeCmd = &cobra.Command{
	Use:   "import-realtime",
	Short: "Fetch one snapshot of the realtime feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if realtimeURL != "" {
			appConfig.Realtime.URL = realtimeURL
		}
		if cmd.Flags().Changed("format") {
			appConfig.Realtime.Format = realtimeFormat
		}
		if err := ValidateRealtimeFlags(appConfig.Realtime.URL, appConfig.Realtime.Format); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		fetcher := gtfs.NewRealtimeFetcher(gtfs.RealtimeConfig{
			URL:         appConfig.Realtime.URL,
			OutDir:      appConfig.Realtime.Dir,
			MaxAttempts: appConfig.Realtime.Attempts,
			Format:      appConfig.Realtime.Format,
		})
		path, err := fetcher.Fetch(ctx)
		if err != nil {
			return err
		}
		log.Info().Msgf("realtime snapshot saved to %s", path)
		return nil
	},
}

var checkURLsCmd = &cobra.Command{
	Use:   "check-urls",
	Short: "Probe every stored URL and report broken ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(appConfig.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := signalContext()
		defer cancel()

		urls, err := store.AllURLs(ctx)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			log.Warn().Msg("no stored URLs to check")
			return nil
		}

		checker := scrap.NewURLChecker(scrap.CheckerConfig{InsecureTLS: checkInsecure})
		results := checker.Check(ctx, urls)

		ok := 0
		for _, r := range results {
			if r.OK {
				ok++
				continue
			}
			log.Warn().Msgf("broken URL %s: %s", r.URL, r.Reason)
		}
		log.Info().Msgf("checked %d URLs: %d ok, %d broken", len(results), ok, len(results)-ok)

		if path, err := utils.NewReporter(appConfig.Scrap.OutputDir).Save("url_check.json", results); err != nil {
			log.Warn().Err(err).Msg("writing check report failed")
		} else {
			log.Info().Msgf("report written to %s", path)
		}
		return nil
	},
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "Audit the capture files produced by the scraper",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := appConfig.Scrap.OutputDir
		infos, err := scrap.AuditCaptures(dir)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			log.Info().Msgf("no captures found in %s", dir)
			return nil
		}

		healthy := 0
		for _, ci := range infos {
			if ci.HasBoard {
				healthy++
				continue
			}
			log.Warn().Msgf("suspect capture %s: expected content missing", ci.File)
		}
		log.Info().Msgf("audited %d captures: %d healthy, %d suspect", len(infos), healthy, len(infos)-healthy)

		if path, err := utils.NewReporter(dir).Save("captures_audit.json", infos); err != nil {
			log.Warn().Err(err).Msg("writing audit report failed")
		} else {
			log.Info().Msgf("report written to %s", path)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print routes, trips and timetables from a feed zip",
	RunE: func(cmd *cobra.Command, args []string) error {
		feed, err := gtfs.OpenFeed(inspectFeed)
		if err != nil {
			return err
		}
		defer feed.Close()

		if version := feed.Version(); version != "" {
			fmt.Printf("feed version: %s\n", version)
		}

		if inspectTrip != "" {
			return printTrip(feed, inspectTrip)
		}
		return printRoutes(feed, inspectRoute)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the embedded database schema",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(storage.Schema())
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scraper with a scheduled nightly feed refresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, store, cleanup, err := buildScheduler()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signalContext()
		defer cancel()

		c := cron.New()
		if appConfig.GTFS.URL == "" {
			log.Warn().Msg("gtfs.url not configured, scheduled feed refresh disabled")
		} else {
			_, err := c.AddFunc(appConfig.Daemon.GTFSRefresh, func() {
				log.Info().Msg("scheduled feed refresh starting")
				feedFile, err := downloadFeed(ctx)
				if err != nil {
					log.Error().Err(err).Msg("scheduled feed download failed")
					return
				}
				if _, err := gtfs.NewImporter(store).ImportStops(ctx, feedFile); err != nil {
					log.Error().Err(err).Msg("scheduled stop import failed")
				}
			})
			if err != nil {
				return fmt.Errorf("cron spec %q: %w", appConfig.Daemon.GTFSRefresh, err)
			}
			c.Start()
			defer c.Stop()
		}

		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stopscrap %s\n", Version)
		fmt.Printf("built %s\n", BuildTime)
	},
}

// buildScheduler assembles the store, browser visitor and scheduler shared
// by the scrap and daemon commands. The returned cleanup stops the
// resource guard and closes the store.
func buildScheduler() (*scrap.Scheduler, *storage.Store, func(), error) {
	if appConfig.Scrap.StopsFile == "" {
		return nil, nil, nil, errors.New("a stops file is required (--stops or scrap.stops_file)")
	}
	stopIDs, err := utils.ReadStopIDs(appConfig.Scrap.StopsFile)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := storage.Open(appConfig.Database.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	guard := scrap.NewResourceGuard(scrap.ResourceGuardConfig{
		MinFreeMemory:    int64(appConfig.Browser.MinFreeMemoryMB) * 1024 * 1024,
		CPULoadThreshold: appConfig.Browser.CPULoadThreshold,
	})
	guard.Start()

	agents := scrap.NewUserAgentPool(appConfig.Browser.UserAgents)
	visitor, err := scrap.NewVisitor(store, agents, guard, scrap.VisitorConfig{
		Headless:        appConfig.Browser.Headless,
		OutputDir:       appConfig.Scrap.OutputDir,
		NavigateTimeout: time.Duration(appConfig.Browser.NavigateTimeout) * time.Second,
		FrameWait:       time.Duration(appConfig.Browser.FrameWait) * time.Second,
		MarkerWait:      time.Duration(appConfig.Browser.MarkerWait) * time.Second,
	})
	if err != nil {
		guard.Stop()
		_ = store.Close()
		return nil, nil, nil, err
	}

	sched := scrap.NewScheduler(visitor, stopIDs, scrap.SchedulerConfig{
		InitialOffset: time.Duration(appConfig.Scrap.InitialOffset) * time.Second,
		VisitedDelay:  time.Duration(appConfig.Scrap.VisitedDelay) * time.Second,
		FailedDelay:   time.Duration(appConfig.Scrap.FailedDelay) * time.Second,
	})

	cleanup := func() {
		guard.Stop()
		_ = store.Close()
	}
	return sched, store, cleanup, nil
}

// downloadFeed fetches the configured feed into the dated directory layout
// and replaces today's copy with a symlink when nothing changed.
func downloadFeed(ctx context.Context) (string, error) {
	d := gtfs.NewDownloader(gtfs.DownloadConfig{
		URL:         appConfig.GTFS.URL,
		OutPath:     filepath.Join(appConfig.GTFS.Dir, feedBasename(appConfig.GTFS.URL)),
		MaxAttempts: appConfig.GTFS.Attempts,
		ChunkSize:   appConfig.GTFS.ChunkSize,
		InsecureTLS: appConfig.GTFS.Insecure,
	})

	downloaded, err := d.Download(ctx)
	if err != nil {
		return "", err
	}

	if same, today, yesterday := d.CompareWithPrevious(); same {
		if err := gtfs.DeduplicateWithSymlink(today, yesterday); err != nil {
			log.Warn().Err(err).Msg("deduplicating today's feed failed")
		}
	}
	return downloaded, nil
}

func printRoutes(feed *gtfs.Feed, shortName string) error {
	routes, err := feed.RoutesByShortName(shortName)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		fmt.Println("no matching routes")
		return nil
	}

	for _, r := range routes {
		trips, err := feed.TripsForRoute(r.RouteID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %s  (%d trips)\n", r.RouteID, r.ShortName, r.LongName, len(trips))
	}
	return nil
}

func printTrip(feed *gtfs.Feed, tripID string) error {
	trip, err := feed.TripByID(tripID)
	if err != nil {
		return err
	}
	fmt.Printf("trip %s  route %s  headsign %q\n", trip.TripID, trip.RouteID, trip.Headsign)

	svc, err := feed.ServiceFor(trip.ServiceID)
	if err != nil {
		return err
	}
	fmt.Printf("service %s  %s to %s\n", svc.ServiceID, svc.StartDate, svc.EndDate)

	days := []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
	var active []string
	for i, on := range svc.Weekdays {
		if on {
			active = append(active, days[i])
		}
	}
	fmt.Printf("runs: %s\n", strings.Join(active, " "))
	if len(svc.Added) > 0 {
		fmt.Printf("extra dates: %s\n", strings.Join(svc.Added, " "))
	}
	if len(svc.Removed) > 0 {
		fmt.Printf("removed dates: %s\n", strings.Join(svc.Removed, " "))
	}

	times, err := feed.StopTimesForTrip(trip.TripID)
	if err != nil {
		return err
	}
	fmt.Printf("%d stops, first departure %s\n", len(times), gtfs.FirstDeparture(times))
	for _, st := range times {
		fmt.Printf("  %3d  %-10s %s -> %s\n", st.StopSequence, st.StopID, st.Arrival, st.Departure)
	}
	return nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Msgf("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "SQLite database path")

	scrapCmd.Flags().StringVarP(&stopsFile, "stops", "s", "", "JSON file with the stop ids to visit")
	scrapCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for capture files")
	scrapCmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")

	daemonCmd.Flags().StringVarP(&stopsFile, "stops", "s", "", "JSON file with the stop ids to visit")
	daemonCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for capture files")
	daemonCmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")

	importGTFSCmd.Flags().StringVarP(&feedURL, "url", "u", "", "feed URL (overrides gtfs.url)")
	importGTFSCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "skip TLS certificate verification")

	importStopsCmd.Flags().StringVarP(&feedPath, "feed", "f", "", "feed zip to import (default: latest download)")

	importURLsCmd.Flags().StringVarP(&seedFile, "file", "f", "", "JSON seed file with URL records")
	importURLsCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip URLs already stored instead of aborting")
	_ = importURLsCmd.MarkFlagRequired("file")

	importRealtimeCmd.Flags().StringVarP(&realtimeURL, "url", "u", "", "realtime feed URL (overrides realtime.url)")
	importRealtimeCmd.Flags().StringVar(&realtimeFormat, "format", "json", "snapshot format (json|pb)")

	checkURLsCmd.Flags().BoolVar(&checkInsecure, "insecure", false, "skip TLS certificate verification")
	checkURLsCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for the report")

	capturesCmd.Flags().StringVarP(&outputDir, "output", "o", "", "capture directory to audit")

	inspectCmd.Flags().StringVarP(&inspectFeed, "feed", "f", "", "feed zip to inspect")
	inspectCmd.Flags().StringVar(&inspectRoute, "route", "", "filter routes by short name")
	inspectCmd.Flags().StringVar(&inspectTrip, "trip", "", "show one trip's service and stop times")
	_ = inspectCmd.MarkFlagRequired("feed")

	rootCmd.AddCommand(
		scrapCmd,
		importGTFSCmd,
		importStopsCmd,
		importURLsCmd,
		importRealtimeCmd,
		checkURLsCmd,
		capturesCmd,
		inspectCmd,
		schemaCmd,
		daemonCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
