package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/digitaldrywood/fitweight/internal/config"
	"github.com/digitaldrywood/fitweight/internal/shell"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	if os.Getenv("FITWEIGHT_DEBUG") != "" {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("Failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds one subcommand per menu entry. Configuration is loaded and
// the token store opened only once a menu command is about to run, so help
// and completion work without either.
func newRootCmd(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "fitweight",
		Short:        "Copy Google Fit weight history into a Google Sheets spreadsheet.",
		SilenceUsage: true,
	}

	var a *app
	setup := func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err = newApp(cmd.Context(), cfg, logger)
		return err
	}

	for _, c := range shell.Menu(shell.DefaultHistoryDays) {
		name := string(c.Name)
		short := c.Title
		if c.Name == shell.History {
			short = "Get Weight History (FITWEIGHT_HISTORY_DAYS days, 600 by default)"
		}
		root.AddCommand(&cobra.Command{
			Use:     name,
			Short:   short,
			Args:    cobra.NoArgs,
			PreRunE: setup,
			RunE: func(cmd *cobra.Command, _ []string) error {
				defer a.Close()
				return a.shell.Dispatch(cmd.Context(), name)
			},
		})
	}
	return root
}
