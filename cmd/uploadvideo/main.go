// Command uploadvideo publishes one user's rendered model video: it waits for
// the local file, uploads it to the bucket, makes it public and records the
// URL on the user's model document.
//
//	uploadvideo [-config file] [-dry-run] <user_id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/univ-capstone/modelvideo/internal/app"
	"github.com/univ-capstone/modelvideo/internal/config"
	"github.com/univ-capstone/modelvideo/internal/logging"
	"github.com/univ-capstone/modelvideo/internal/upload"
)

var Version = "0.2.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	dryRun := flag.Bool("dry-run", false, "use in-memory storage instead of Firebase")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [-dry-run] <user_id>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one user id, got %d arguments", flag.NArg())
	}
	userID := flag.Arg(0)

	cfg, err := config.New(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.WithComponent(logging.NewLogger(cfg.LogLevel()), "uploadvideo")
	logger.Info("starting upload", "version", Version, "user_id", userID, "bucket", cfg.Bucket())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{Name: "uploadvideo", DryRun: *dryRun})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close resources", "error", err)
		}
	}()

	res, err := a.Service.Run(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Println(upload.ConfirmationLine(res))
	return nil
}
