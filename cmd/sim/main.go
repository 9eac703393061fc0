package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"terrarium.sim/internal/feed"
	"terrarium.sim/internal/persistence/archive"
	"terrarium.sim/internal/scenario"
	"terrarium.sim/internal/sim/engine"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "path to scenario yaml")
		ticks        = flag.Uint64("ticks", 100, "number of ticks to simulate")
		outDir       = flag.String("out", "", "run output directory")
		label        = flag.String("label", "", "human label recorded in the manifest")
		overwrite    = flag.Bool("overwrite", false, "replace an existing run directory")
		withIndex    = flag.Bool("index", true, "maintain the advisory sqlite index")
		feedAddr     = flag.String("feed", "", "listen address for the live websocket feed (optional, e.g. 127.0.0.1:8791)")
		archiveRoot  = flag.String("archive", "", "export the sealed run under this archive root (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	if *scenarioPath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "missing -scenario or -out")
		os.Exit(2)
	}

	cfg, err := scenario.Load(*scenarioPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scenario:", err)
		os.Exit(1)
	}

	opts := engine.Options{
		Ticks:     *ticks,
		OutDir:    *outDir,
		Label:     *label,
		Overwrite: *overwrite,
		WithIndex: *withIndex,
		Logger:    logger,
	}

	if *feedAddr != "" {
		fs := feed.NewServer(logger)
		opts.Feed = fs
		mux := http.NewServeMux()
		mux.HandleFunc("/feed", fs.Handler())
		srv := &http.Server{Addr: *feedAddr, Handler: mux}
		go func() {
			logger.Printf("feed: listening on ws://%s/feed", *feedAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("feed: %v", err)
			}
		}()
		defer func() {
			fs.Close()
			_ = srv.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.Run(ctx, cfg, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(1)
	}
	fmt.Printf("run %s complete: %d ticks in %s\n", res.RunID, res.Ticks, res.Dir)

	if *archiveRoot != "" {
		dst, err := archive.ArchiveRun(*archiveRoot, res.Dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "archive:", err)
			os.Exit(1)
		}
		fmt.Printf("archived to %s\n", dst)
	}
}
