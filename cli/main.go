package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"

	"github.com/hpcops/amiereport/cli/internal/aggregator"
	"github.com/hpcops/amiereport/cli/internal/config"
	"github.com/hpcops/amiereport/cli/internal/output"
	"github.com/hpcops/amiereport/cli/internal/spool"
	"github.com/hpcops/amiereport/internal/parser"
	"github.com/hpcops/amiereport/internal/usage"
)

const version = "0.1.0"

func main() {
	// Detect subcommand first
	command := "project"
	args := os.Args[1:]

	// Find and extract the subcommand from args
	var filteredArgs []string
	for i, arg := range args {
		switch arg {
		case "project", "user", "queue", "daily", "package", "spool", "config":
			command = arg
			// Keep remaining args for flag parsing
			filteredArgs = append(args[:i], args[i+1:]...)
		}
		if command != "project" || arg == "project" {
			break
		}
	}
	if filteredArgs == nil {
		filteredArgs = args
	}

	// Handle special commands
	switch command {
	case "package":
		runPackage(filteredArgs)
		return
	case "spool":
		runSpool(filteredArgs)
		return
	case "config":
		runConfig(filteredArgs)
		return
	}

	// Create a new FlagSet for clean parsing
	fs := flag.NewFlagSet("amiereport", flag.ExitOnError)

	var (
		since    string
		until    string
		input    string
		jsonOut  bool
		queues   bool
		compact  bool
		showHelp bool
		showVer  bool
	)

	fs.StringVar(&since, "since", "", "Start date filter (YYYYMMDD)")
	fs.StringVar(&until, "until", "", "End date filter (YYYYMMDD)")
	fs.StringVar(&input, "input", "", "Job-completion log file or directory (overrides config)")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	fs.BoolVar(&queues, "queues", false, "List queues that contributed to the report")
	fs.BoolVar(&compact, "compact", false, "Force compact table output")
	fs.BoolVar(&compact, "c", false, "Force compact table output")
	fs.BoolVar(&showHelp, "help", false, "Show help")
	fs.BoolVar(&showHelp, "h", false, "Show help")
	fs.BoolVar(&showVer, "version", false, "Show version")
	fs.BoolVar(&showVer, "v", false, "Show version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `amiereport - AMIE allocation usage reporting

Usage: amiereport [command] [options]

Commands:
  project   Show charges by project (default)
  user      Show charges by user
  queue     Show charges by queue
  daily     Show charges by day
  package   Package usage records into spooled AMIE messages
  spool     Inspect and export spooled messages
  config    Configure resource and source settings

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  amiereport                         Show charges by project
  amiereport user --since 20260201
  amiereport daily --json
  amiereport config --resource expanse.sdsc.edu --source /var/log/slurm/jobcomp
  amiereport package --type compute
  amiereport spool export --out /tmp/amie
`)
	}

	fs.Parse(filteredArgs)

	if showVer {
		fmt.Printf("amiereport version %s\n", version)
		return
	}

	if showHelp {
		fs.Usage()
		return
	}

	// Parse dates
	var opts aggregator.Options

	if since != "" {
		t, err := time.Parse("20060102", since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --since date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		opts.Since = t
	}

	if until != "" {
		t, err := time.Parse("20060102", until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --until date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		// Include the entire day
		opts.Until = t.Add(24*time.Hour - time.Second)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	records, err := readRecords(cfg, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading usage data: %v\n", err)
		os.Exit(1)
	}

	if len(records) == 0 {
		fmt.Println("No usage records found.")
		return
	}

	// Filter by date range
	records = aggregator.FilterRecords(records, opts)

	if len(records) == 0 {
		fmt.Println("No usage records found for the specified date range.")
		return
	}

	// Aggregate based on command
	var results []aggregator.Summary
	var title string

	switch command {
	case "project":
		results = aggregator.ByProject(records)
		title = "Project"
	case "user":
		results = aggregator.ByUser(records)
		title = "User"
	case "queue":
		results = aggregator.ByQueue(records)
		title = "Queue"
	case "daily":
		results = aggregator.ByDay(records)
		title = "Date"
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		fs.Usage()
		os.Exit(1)
	}

	// Output results
	opts2 := output.TableOptions{ForceCompact: compact}

	if jsonOut {
		output.PrintJSON(results)
	} else if queues {
		output.PrintTableWithQueues(results, title, opts2)
	} else {
		output.PrintTableWithOptions(results, title, true, opts2)
	}
}

// readRecords loads usage records from the given input path, falling back
// to the configured source. A file is parsed directly, a directory is
// walked for *.jsonl logs.
func readRecords(cfg *config.Config, input string) ([]usage.UsageRecord, error) {
	if input == "" {
		input = cfg.Source
	}
	if input == "" {
		return nil, fmt.Errorf("no source configured; run 'amiereport config --source <path>' or pass --input")
	}

	opts := parser.Options{Resource: cfg.Resource, Rates: cfg.Rates}

	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return parser.ParseDir(input, opts)
	}
	return parser.ParseFile(input, opts)
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		resource  string
		source    string
		spoolPath string
		chunkSize int
		show      bool
	)
	fs.StringVar(&resource, "resource", "", "Resource name as registered with AMIE")
	fs.StringVar(&source, "source", "", "Job-completion log file or directory")
	fs.StringVar(&spoolPath, "spool", "", "Spool database path")
	fs.IntVar(&chunkSize, "chunk-size", 0, "Records per spooled message")
	fs.BoolVar(&show, "show", false, "Show current configuration")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: amiereport config [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  amiereport config --resource expanse.sdsc.edu --source /var/log/slurm/jobcomp
  amiereport config --show
`)
	}

	fs.Parse(args)

	if show {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.Resource == "" && cfg.Source == "" {
			fmt.Println("No configuration found. Run 'amiereport config --resource <name> --source <path>' to configure.")
			return
		}
		fmt.Printf("Resource: %s\n", cfg.Resource)
		fmt.Printf("Source: %s\n", cfg.Source)
		path, err := cfg.SpoolPathOrDefault()
		if err == nil {
			fmt.Printf("Spool: %s\n", path)
		}
		fmt.Printf("Chunk size: %d\n", cfg.ChunkSizeOrDefault())
		return
	}

	if resource == "" && source == "" && spoolPath == "" && chunkSize == 0 {
		fs.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	if resource != "" {
		cfg.Resource = resource
	}
	if source != "" {
		cfg.Source = source
	}
	if spoolPath != "" {
		cfg.SpoolPath = spoolPath
	}
	if chunkSize > 0 {
		cfg.ChunkSize = chunkSize
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration saved.")
}

// packageService implements service.Interface for background packaging
type packageService struct {
	interval  time.Duration
	usageType string
	stop      chan struct{}
	logger    service.Logger
}

func (s *packageService) Start(svc service.Service) error {
	s.stop = make(chan struct{})
	go s.run()
	return nil
}

func (s *packageService) Stop(svc service.Service) error {
	close(s.stop)
	return nil
}

func (s *packageService) run() {
	cfg, err := config.Load()
	if err != nil || cfg.Resource == "" || cfg.Source == "" {
		if s.logger != nil {
			s.logger.Error("Not configured. Run 'amiereport config' first.")
		}
		return
	}

	// Package immediately on start
	s.doPackage(cfg)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doPackage(cfg)
		case <-s.stop:
			return
		}
	}
}

func (s *packageService) doPackage(cfg *config.Config) {
	messages, records, err := packageOnce(cfg, "", s.usageType, 0, false, false)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error packaging usage data: %v", err)
		}
		return
	}

	if records > 0 && s.logger != nil {
		s.logger.Infof("Spooled %d messages (%d records)", messages, records)
	}
}

func runPackage(args []string) {
	fs := flag.NewFlagSet("package", flag.ExitOnError)
	var (
		input     string
		usageType string
		chunkSize int
		dryRun    bool
		all       bool
		interval  time.Duration
	)
	fs.StringVar(&input, "input", "", "Job-completion log file or directory (overrides config)")
	fs.StringVar(&usageType, "type", "compute", "Usage type: compute, storage, or adjustment")
	fs.IntVar(&chunkSize, "chunk-size", 0, "Records per spooled message (overrides config)")
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would be spooled without writing")
	fs.BoolVar(&all, "all", false, "Package all records, ignoring the last packaged mark")
	fs.DurationVar(&interval, "interval", time.Hour, "Packaging interval for service mode (e.g., 1h, 30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: amiereport package [command] [options]

Commands:
  (none)      Package once
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  amiereport package                   Package new records once
  amiereport package --dry-run
  amiereport package --type adjustment --input credits.jsonl --all
  amiereport package install           Install service (packages every hour)
  amiereport package install --interval 30m
`)
	}

	// Check for service commands before parsing flags
	var svcCommand string
	if len(args) > 0 {
		switch args[0] {
		case "install", "start", "stop", "uninstall", "status", "run":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs.Parse(args)

	// Create service config
	svcConfig := &service.Config{
		Name:        "amiereport-package",
		DisplayName: "amiereport Packaging Service",
		Description: "Periodically packages job accounting data into AMIE usage messages",
		Arguments:   []string{"package", "run", fmt.Sprintf("--interval=%s", interval)},
	}

	svc := &packageService{interval: interval, usageType: usageType}
	s, err := service.New(svc, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	// Handle service commands
	switch svcCommand {
	case "install":
		cfg, err := config.Load()
		if err != nil || cfg.Resource == "" || cfg.Source == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'amiereport config --resource <name> --source <path>' first.\n")
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Printf("Service installed and started.\n")
		fmt.Printf("Packaging interval: %s\n", interval)
		return

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")
		return

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")
		return

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")
		return

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
		} else {
			switch status {
			case service.StatusRunning:
				fmt.Println("Service status: running")
			case service.StatusStopped:
				fmt.Println("Service status: stopped")
			default:
				fmt.Println("Service status: unknown")
			}
		}
		return

	case "": // No service command - package once
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		messages, records, err := packageOnce(cfg, input, usageType, chunkSize, dryRun, all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if records == 0 {
			fmt.Println("No new records to package.")
			return
		}
		if dryRun {
			fmt.Printf("Dry run - would spool %d messages (%d records).\n", messages, records)
			return
		}
		fmt.Printf("Spooled %d messages (%d records).\n", messages, records)
		return

	case "run":
		// Running as service (internal command)
		logger, err := s.Logger(nil)
		if err == nil {
			svc.logger = logger
		}
		if err := s.Run(); err != nil && logger != nil {
			logger.Error(err)
		}
	}
}

// packageOnce reads new usage records, wraps them in a chunked usage
// message, and spools the chunks. Returns the number of messages and
// records handled.
func packageOnce(cfg *config.Config, input, usageType string, chunkSize int, dryRun, all bool) (int, int, error) {
	records, err := readRecords(cfg, input)
	if err != nil {
		return 0, 0, err
	}

	spoolPath, err := cfg.SpoolPathOrDefault()
	if err != nil {
		return 0, 0, err
	}
	db, err := spool.Open(spoolPath)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return 0, 0, err
	}

	if !all {
		mark, err := db.HighWaterMark()
		if err != nil {
			return 0, 0, err
		}
		records = newerThan(records, mark)
	}

	if len(records) == 0 {
		return 0, 0, nil
	}

	msg, err := usage.NewUsageMessage(usageType, records)
	if err != nil {
		return 0, 0, err
	}

	if chunkSize <= 0 {
		chunkSize = cfg.ChunkSizeOrDefault()
	}
	chunks := msg.Chunks(chunkSize)

	if dryRun {
		return len(chunks), len(records), nil
	}

	for _, chunk := range chunks {
		if _, err := db.Enqueue(chunk, cfg.Resource); err != nil {
			return 0, 0, err
		}
	}

	if mark, ok := latestEndTime(records); ok {
		if err := db.SetHighWaterMark(mark); err != nil {
			return 0, 0, err
		}
	}

	return len(chunks), len(records), nil
}

// newerThan keeps records whose end time is after mark
func newerThan(records []usage.UsageRecord, mark time.Time) []usage.UsageRecord {
	if mark.IsZero() {
		return records
	}
	var kept []usage.UsageRecord
	for _, r := range records {
		ts, err := time.Parse(time.RFC3339, r.EndTime)
		if err != nil || ts.After(mark) {
			kept = append(kept, r)
		}
	}
	return kept
}

func latestEndTime(records []usage.UsageRecord) (time.Time, bool) {
	var latest time.Time
	for _, r := range records {
		ts, err := time.Parse(time.RFC3339, r.EndTime)
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, !latest.IsZero()
}

func runSpool(args []string) {
	fs := flag.NewFlagSet("spool", flag.ExitOnError)
	var (
		out string
		all bool
	)
	fs.StringVar(&out, "out", ".", "Directory to export message files to")
	fs.BoolVar(&all, "all", false, "Include messages already exported")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: amiereport spool [command] [options]

Commands:
  (none)      List spooled messages
  export      Write pending messages to JSON files and mark them sent
  clear       Delete messages already exported

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  amiereport spool
  amiereport spool export --out /tmp/amie
  amiereport spool clear
`)
	}

	var subCommand string
	if len(args) > 0 {
		switch args[0] {
		case "export", "clear":
			subCommand = args[0]
			args = args[1:]
		}
	}

	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	spoolPath, err := cfg.SpoolPathOrDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	db, err := spool.Open(spoolPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening spool: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating spool: %v\n", err)
		os.Exit(1)
	}

	switch subCommand {
	case "export":
		messages, err := db.List(false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing spool: %v\n", err)
			os.Exit(1)
		}
		if len(messages) == 0 {
			fmt.Println("No pending messages to export.")
			return
		}
		if err := os.MkdirAll(out, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
			os.Exit(1)
		}
		for _, m := range messages {
			path := filepath.Join(out, m.ID+".json")
			if err := os.WriteFile(path, m.Body, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
				os.Exit(1)
			}
			if err := db.MarkSent(m.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error marking %s sent: %v\n", m.ID, err)
				os.Exit(1)
			}
		}
		fmt.Printf("Exported %d messages to %s.\n", len(messages), out)

	case "clear":
		n, err := db.ClearSent()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing spool: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted %d exported messages.\n", n)

	default:
		messages, err := db.List(all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing spool: %v\n", err)
			os.Exit(1)
		}
		if len(messages) == 0 {
			fmt.Println("Spool is empty.")
			return
		}
		fmt.Printf("%-36s  %-10s  %8s  %-20s  %s\n", "ID", "Type", "Records", "Created", "Status")
		for _, m := range messages {
			status := "pending"
			if m.SentAt != nil {
				status = "exported " + m.SentAt.UTC().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s  %-10s  %8d  %-20s  %s\n",
				m.ID, m.UsageType, m.RecordCount,
				m.CreatedAt.UTC().Format("2006-01-02 15:04"), status)
		}
	}
}
