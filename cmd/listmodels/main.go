package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/quillpost/quillpost-backend/internal/config"
	"github.com/quillpost/quillpost-backend/internal/genai"
	"github.com/quillpost/quillpost-backend/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run lists the provider's models and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("listmodels", flag.ContinueOnError)
	flags.SetOutput(stderr)
	asJSON := flags.Bool("json", false, "print the full model records as JSON")
	timeout := flags.Duration("timeout", 0, "request timeout (defaults to QP_GEMINI_TIMEOUT)")
	pageSize := flags.Int("page-size", 0, "page size hint sent to the provider (defaults to QP_GEMINI_PAGE_SIZE)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.RequireGeminiKey(); err != nil {
		genai.PrintError(stderr, err)
		return 1
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	clientCfg := genai.Config{
		APIKey:   cfg.Gemini.APIKey,
		BaseURL:  cfg.Gemini.BaseURL,
		Timeout:  cfg.Gemini.Timeout,
		PageSize: cfg.Gemini.PageSize,
	}
	if *timeout > 0 {
		clientCfg.Timeout = *timeout
	}
	if *pageSize > 0 {
		clientCfg.PageSize = *pageSize
	}

	models, err := genai.NewClient(clientCfg, logger, nil).ListModels(ctx)
	if err != nil {
		genai.PrintError(stderr, err)
		return 1
	}

	if *asJSON {
		if err := genai.PrintModelsJSON(stdout, models); err != nil {
			fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
			return 1
		}
		return 0
	}
	genai.PrintModels(stdout, models)
	return 0
}
