package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/digitaldrywood/fitweight/internal/config"
	"github.com/digitaldrywood/fitweight/internal/database"
	"github.com/digitaldrywood/fitweight/internal/google"
	"github.com/digitaldrywood/fitweight/internal/history"
	"github.com/digitaldrywood/fitweight/internal/shell"
)

type app struct {
	shell    *shell.Shell
	sessions map[string]*google.Session
	sheets   *google.SheetsClient
	logger   *log.Logger
	closer   io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, sessions: make(map[string]*google.Session)}

	var store google.TokenStore
	switch cfg.TokenBackend {
	case "file":
		store = google.NewFileTokenStore(filepath.Join(cfg.DataDir, "tokens.json"), cfg.UserEmail)
	default:
		db, err := database.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		a.closer = db
		store = db.Tokens(cfg.UserEmail)
	}

	fit := google.NewSession(
		google.FitConfig(cfg.ClientID, cfg.ClientSecret, cfg.OAuthRedirectURL, cfg.UserEmail),
		store, google.WithSessionLogger(logger), google.WithBaseContext(ctx))
	sheetsSession := google.NewSession(
		google.SheetsConfig(cfg.ClientID, cfg.ClientSecret, cfg.OAuthRedirectURL, cfg.UserEmail),
		store, google.WithSessionLogger(logger), google.WithBaseContext(ctx))
	a.sessions[fit.Service()] = fit
	a.sessions[sheetsSession.Service()] = sheetsSession

	fitClient, err := google.NewFitClient(ctx, fit, nil, "")
	if err != nil {
		a.Close()
		return nil, err
	}
	service, err := google.NewSheetsService(ctx, sheetsSession, nil, "")
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sheets = google.NewSheetsClient(service, cfg.SpreadsheetID, cfg.SheetName)

	fetcher := history.NewFetcher(fitClient, a.sheets,
		history.WithLogger(logger),
		history.WithLocation(loc),
		history.WithDelay(cfg.ChunkDelay),
		history.WithAuthorizers(fit, sheetsSession),
	)

	a.shell = shell.New(fetcher, []shell.Session{fit, sheetsSession}, a.authorize,
		shell.WithHistoryDays(cfg.HistoryDays))
	return a, nil
}

// authorize runs the local authorization server for one service. After the
// sheets service is authorized the spreadsheet is opened once to confirm access.
func (a *app) authorize(ctx context.Context, service string) (bool, error) {
	session, ok := a.sessions[service]
	if !ok {
		return false, fmt.Errorf("no session for service %q", service)
	}

	srv, err := google.NewAuthServer(session, a.logger)
	if err != nil {
		return false, err
	}
	authorized, err := srv.Run(ctx)
	if err != nil || !authorized {
		return authorized, err
	}

	if service == "sheets" {
		title, err := a.sheets.Title(ctx)
		if err != nil {
			return true, err
		}
		a.logger.Printf("Connected to spreadsheet: %s", title)
	}
	return true, nil
}

func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}
