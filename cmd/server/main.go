package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/pdfchat/internal/config"
	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/pdfqa"
	"github.com/dgallion1/pdfchat/internal/web"
)

func main() {
	cfg, err := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := pdfqa.NewClient(cfg.BackendURL, pdfqa.Paths{
		Upload:  cfg.UploadPath,
		Ask:     cfg.AskPath,
		Remove:  cfg.RemovePath,
		History: cfg.HistoryPath,
		List:    cfg.ListPath,
	}, cfg.RequestTimeout)

	var opts []page.Option
	if cfg.BotMarkdown {
		opts = append(opts, page.WithMarkdown())
	}
	p, err := page.New(page.Assets{
		BotAvatarURL:  cfg.BotAvatarURL,
		UserAvatarURL: cfg.UserAvatarURL,
		PDFIconURL:    cfg.PDFIconURL,
	}, opts...)
	if err != nil {
		log.Error("build page", "error", err)
		os.Exit(1)
	}

	srv := web.NewServer(p, client, log, cfg)
	go srv.Chat().PlayGreeting(ctx)
	if cfg.SyncOnStart {
		go srv.Upload().SyncAtStart(ctx)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		client.Close()
	}()

	log.Info("starting pdfchat", "port", cfg.Port, "backend", cfg.BackendURL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
