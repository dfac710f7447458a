package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbruckner/depotsync/internal/app"
	"github.com/mbruckner/depotsync/internal/common"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	full := flag.Bool("full", false, "ignore cursors and re-sync the full timeline")
	once := flag.Bool("once", false, "run a single sync and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.RunOnce(ctx, *full || a.Config.Sync.FullOnStart); err != nil {
		a.Logger.Error().Err(err).Msg("Sync failed")
		a.Close()
		os.Exit(1)
	}

	if *once {
		a.Close()
		return
	}

	a.StartScheduler()
	a.Logger.Info().Str("interval", a.Config.Sync.Interval).Msg("Scheduler running")

	<-ctx.Done()
	common.PrintShutdownBanner(a.Logger)

	a.Close()
	a.Logger.Info().Msg("Stopped")
}
