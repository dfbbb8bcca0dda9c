package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/aurora.cubes/internal/casa"
	"github.com/banshee-data/aurora.cubes/internal/config"
	"github.com/banshee-data/aurora.cubes/internal/ledger"
	"github.com/banshee-data/aurora.cubes/internal/monitoring"
	"github.com/banshee-data/aurora.cubes/internal/pipeline"
	"github.com/banshee-data/aurora.cubes/internal/security"
	"github.com/banshee-data/aurora.cubes/internal/shell"
	"github.com/banshee-data/aurora.cubes/internal/timeutil"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// loadConfig reads path, or returns the built-in defaults when path is
// empty.
func loadConfig(path string) (*config.CubeConfig, error) {
	if path == "" {
		return config.DefaultCubeConfig(), nil
	}
	return config.LoadCubeConfig(path)
}

func loadPlan(path string) (*config.CubeConfig, *pipeline.Plan, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pipeline.NewPlan(cfg), nil
}

// checkProducts makes sure every product of p resolves inside dir.
func checkProducts(p *pipeline.Plan, dir string) error {
	for _, name := range p.FITSFiles() {
		if err := security.ValidatePathWithinDirectory(filepath.Join(dir, name), dir); err != nil {
			return err
		}
	}
	return nil
}

func handleRun(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("run", stderr)
	configPath := fs.String("config", "", "JSON cube configuration (default: built-in defaults)")
	workdir := fs.String("workdir", ".", "Directory CASA runs in")
	casaPath := fs.String("casa", "casa", "CASA executable")
	target := fs.String("target", "localhost", "Host to run CASA on")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	dbPath := fs.String("db", ledger.DefaultPath, "Run ledger path (empty disables recording)")
	dryRun := fs.Bool("dry-run", false, "Log the CASA calls without executing them")
	noVerify := fs.Bool("no-verify", false, "Skip FITS product verification")
	quick := fs.Bool("quicklook", false, "Render quicklook plots after the run")
	stream := fs.Bool("stream", false, "Copy CASA output to stderr while it runs")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	monitoring.SetDebug(*debug)

	cfg, plan, err := loadPlan(*configPath)
	if err != nil {
		return err
	}
	cfgJSON, err := cfg.JSON()
	if err != nil {
		return err
	}

	host, user, key := *target, *sshUser, *sshKey
	exec := shell.NewExecutor(host, user, key, *workdir, *dryRun)
	if !exec.IsLocal() {
		host, user, key, err = shell.ResolveSSHTarget(*target, *sshUser, *sshKey)
		if err != nil {
			return fmt.Errorf("failed to resolve SSH target: %w", err)
		}
		exec = shell.NewExecutor(host, user, key, *workdir, *dryRun)
	} else if err := checkProducts(plan, *workdir); err != nil {
		return err
	}
	exec.SetLogger(monitoring.DebugLogger{})
	if *stream {
		exec.Stream = stderr
	}

	runner := casa.NewRunner(exec, *casaPath)
	runner.Logger = monitoring.DebugLogger{}

	local := exec.IsLocal() && !*dryRun
	driver := &pipeline.Driver{
		Plan:       plan,
		Imager:     runner,
		Cleaner:    exec,
		Out:        stdout,
		Verify:     local && !*noVerify,
		Quicklook:  local && *quick,
		Target:     host,
		DryRun:     *dryRun,
		ConfigJSON: cfgJSON,
	}
	if local {
		driver.ProductDir = *workdir
	}

	if *dbPath != "" {
		db, err := ledger.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		driver.Ledger = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := timeutil.System.Now()
	res, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	if res.RunID != "" {
		monitoring.Logf("run %s finished in %s", res.RunID, timeutil.Elapsed(timeutil.System, start).Round(time.Second))
	}
	if res.Quicklook != nil {
		fmt.Fprintf(stdout, "Quicklook: %s, %s\n", res.Quicklook.PNG, res.Quicklook.HTML)
	}
	return nil
}

func handlePlan(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("plan", stderr)
	configPath := fs.String("config", "", "JSON cube configuration (default: built-in defaults)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, plan, err := loadPlan(*configPath)
	if err != nil {
		return err
	}
	return plan.Describe(stdout)
}

func handleScript(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("script", stderr)
	configPath := fs.String("config", "", "JSON cube configuration (default: built-in defaults)")
	out := fs.String("o", "", "Write the script to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, plan, err := loadPlan(*configPath)
	if err != nil {
		return err
	}

	script := casa.Script(plan.Tasks()...)
	if *out == "" {
		_, err := io.WriteString(stdout, script)
		return err
	}
	if err := os.WriteFile(*out, []byte(script), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Wrote %s\n", *out)
	return nil
}

func handleVerify(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("verify", stderr)
	configPath := fs.String("config", "", "JSON cube configuration (default: built-in defaults)")
	workdir := fs.String("workdir", ".", "Directory holding the FITS products")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, plan, err := loadPlan(*configPath)
	if err != nil {
		return err
	}
	if err := checkProducts(plan, *workdir); err != nil {
		return err
	}

	report := plan.Verify(*workdir)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tKIND\tFILE\tAXES\tMIN\tMAX\tMEAN")
	for _, r := range report.Results {
		status := "OK"
		if !r.OK() {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4g\t%.4g\t%.4g\n", status, r.Expectation.Kind,
			filepath.Base(r.Expectation.Path), r.Header.AxesString(), r.Stats.Min, r.Stats.Max, r.Stats.Mean)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return report.Err()
}

func handleQuicklook(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("quicklook", stderr)
	configPath := fs.String("config", "", "JSON cube configuration (default: built-in defaults)")
	workdir := fs.String("workdir", ".", "Directory holding the FITS products")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, plan, err := loadPlan(*configPath)
	if err != nil {
		return err
	}
	if err := checkProducts(plan, *workdir); err != nil {
		return err
	}
	out, err := pipeline.RenderQuicklook(plan, *workdir)
	if err != nil {
		return err
	}
	for _, f := range out.Files() {
		fmt.Fprintln(stdout, f)
	}
	return nil
}

func handleHistory(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	dbPath := fs.String("db", ledger.DefaultPath, "Run ledger path")
	limit := fs.Int("limit", 20, "Number of runs to list")
	runID := fs.String("run", "", "Show the products of one run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := ledger.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	if *runID != "" {
		if _, err := db.Run(ctx, *runID); err != nil {
			return err
		}
		products, err := db.Products(ctx, *runID)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "KIND\tFILE\tAXES\tVERIFIED\tPROBLEMS")
		for _, p := range products {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.Kind, filepath.Base(p.Path), p.Axes, p.Verified, p.Problems)
		}
		return tw.Flush()
	}

	runs, err := db.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tSTEM\tNCHAN\tTHRESHOLD\tTARGET\tDURATION")
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry-run)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n", r.ID, r.StartedAt.Local().Format(time.DateTime),
			status, r.Stem, r.NChan, r.Threshold, r.Target, r.Duration().Round(time.Second))
	}
	return tw.Flush()
}

func handleServe(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	dbPath := fs.String("db", ledger.DefaultPath, "Run ledger path")
	listen := fs.String("listen", "localhost:8090", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := ledger.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		return err
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/debug/", http.StatusFound)
	})

	srv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("serving run ledger %s on http://%s/debug/", *dbPath, *listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func handleMigrate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	dbPath := fs.String("db", ledger.DefaultPath, "Run ledger path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: aurora-cubes migrate [--db file] up|down|status")
	}

	db, err := ledger.OpenNoMigrate(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action := fs.Arg(0); action {
	case "up":
		if err := db.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := ledger.LatestVersion()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(stdout, "schema version %s of %d (%s)\n", strconv.FormatUint(uint64(v), 10), latest, state)
	return nil
}
