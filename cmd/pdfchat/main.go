// Command pdfchat is the terminal front-end: upload PDFs and ask questions
// about them from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/pdfchat/internal/config"
	"github.com/dgallion1/pdfchat/internal/console"
	"github.com/dgallion1/pdfchat/internal/page"
	"github.com/dgallion1/pdfchat/internal/pdfqa"
	"github.com/dgallion1/pdfchat/internal/picker"
)

func main() {
	var (
		backend  = flag.String("backend", "", "PDF Q&A service URL (overrides PDFCHAT_BACKEND_URL)")
		quiet    = flag.Bool("quiet", false, "skip the typed greeting")
		syncList = flag.Bool("sync", false, "list the PDFs the service already has at start")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pdfchat [flags] [file.pdf ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.BackendURL = *backend
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := pdfqa.NewClient(cfg.BackendURL, pdfqa.Paths{
		Upload:  cfg.UploadPath,
		Ask:     cfg.AskPath,
		Remove:  cfg.RemovePath,
		History: cfg.HistoryPath,
		List:    cfg.ListPath,
	}, cfg.RequestTimeout)
	defer client.Close()

	var pageOpts []page.Option
	if cfg.BotMarkdown {
		pageOpts = append(pageOpts, page.WithMarkdown())
	}
	p, err := page.New(page.Assets{
		BotAvatarURL:  cfg.BotAvatarURL,
		UserAvatarURL: cfg.UserAvatarURL,
		PDFIconURL:    cfg.PDFIconURL,
	}, pageOpts...)
	if err != nil {
		log.Error("build page", "error", err)
		os.Exit(1)
	}

	var opts []console.Option
	if *quiet {
		opts = append(opts, console.WithoutGreeting())
	}
	c := console.New(os.Stdin, os.Stdout, p, client, log, opts...)

	if *syncList || cfg.SyncOnStart {
		_ = c.Upload().SyncAtStart(ctx)
	}
	if flag.NArg() > 0 {
		_ = c.Upload().Choose(ctx, picker.Paths(flag.Args()))
	}

	if err := c.Run(ctx); err != nil {
		log.Error("console", "error", err)
		os.Exit(1)
	}
}
