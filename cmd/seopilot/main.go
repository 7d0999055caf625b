package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pressroom-dev/seopilot/internal/artifacts"
	"github.com/pressroom-dev/seopilot/internal/observability"
	vcs "github.com/pressroom-dev/seopilot/internal/vcs/github"
	"github.com/pressroom-dev/seopilot/internal/workspace"
	"github.com/pressroom-dev/seopilot/pipeline"
	"github.com/pressroom-dev/seopilot/state"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "serve failed: %v\n", err)
			os.Exit(1)
		}
	case "run":
		if err := runOnce(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: seopilot <serve|run> [flags]")
}

type commonFlags struct {
	databaseURL   string
	githubToken   string
	llmProvider   string
	llmAPIKey     string
	llmModel      string
	llmBaseURL    string
	auditEndpoint string
	auditToken    string
	s3Bucket      string
	s3Prefix      string
	s3Region      string
}

func registerCommonFlags(flags *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	flags.StringVar(&cf.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN")
	flags.StringVar(&cf.githubToken, "github-token", os.Getenv("GITHUB_TOKEN"), "GitHub token with repo scope")
	flags.StringVar(&cf.llmProvider, "llm-provider", envOr("LLM_PROVIDER", "anthropic"), "Model provider: anthropic, openai, openrouter")
	flags.StringVar(&cf.llmAPIKey, "llm-api-key", os.Getenv("LLM_API_KEY"), "Model provider API key")
	flags.StringVar(&cf.llmModel, "llm-model", os.Getenv("LLM_MODEL"), "Model name override")
	flags.StringVar(&cf.llmBaseURL, "llm-base-url", os.Getenv("LLM_BASE_URL"), "Model API base URL override")
	flags.StringVar(&cf.auditEndpoint, "audit-endpoint", os.Getenv("AUDIT_ENDPOINT"), "SEO audit service endpoint")
	flags.StringVar(&cf.auditToken, "audit-token", os.Getenv("AUDIT_TOKEN"), "SEO audit service token")
	flags.StringVar(&cf.s3Bucket, "s3-bucket", os.Getenv("S3_BUCKET"), "S3 bucket for run artifacts")
	flags.StringVar(&cf.s3Prefix, "s3-prefix", os.Getenv("S3_PREFIX"), "S3 key prefix for run artifacts")
	flags.StringVar(&cf.s3Region, "s3-region", os.Getenv("S3_REGION"), "S3 region for run artifacts")
	return cf
}

func runServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := registerCommonFlags(flags)
	listen := flags.String("listen", ":8080", "Listen address")
	_ = flags.Parse(args)

	ctx := context.Background()
	service, db, err := buildService(ctx, cf)
	if err != nil {
		return err
	}
	defer db.Close()
	defer service.Wait()

	handler := pipeline.NewHTTPHandler(service, observability.NewLogger("pipeline.http"))

	server := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	observability.NewLogger("seopilot").Info("server starting", "event", "server_starting", "listen", *listen)
	return server.ListenAndServe()
}

func runOnce(args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	cf := registerCommonFlags(flags)
	domain := flags.String("domain", "", "Domain to audit and improve")
	repoURL := flags.String("repo-url", "", "Target repository URL")
	baseBranch := flags.String("base-branch", "main", "Base branch for the pull request")
	companyDescription := flags.String("company-description", "", "Company context for the analysis prompt")
	_ = flags.Parse(args)

	if *domain == "" || *repoURL == "" {
		return errors.New("domain and repo-url required")
	}

	ctx := context.Background()
	service, db, err := buildService(ctx, cf)
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := service.StartRun(ctx, pipeline.StartRunRequest{
		Domain:             *domain,
		RepoURL:            *repoURL,
		BaseBranch:         *baseBranch,
		CompanyDescription: *companyDescription,
	})
	if err != nil {
		return err
	}

	logger := observability.WithRun(observability.NewLogger("seopilot"), run.ID)
	logger.Info("run started", "event", "run_started", "domain", *domain)

	service.Wait()

	final, err := service.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	if final.Status == state.RunStatusFailed {
		return fmt.Errorf("run ended in failure: %s", final.Error)
	}
	return nil
}

func buildService(ctx context.Context, cf *commonFlags) (*pipeline.Service, *sql.DB, error) {
	if cf.databaseURL == "" {
		return nil, nil, errors.New("database-url or DATABASE_URL required")
	}
	if cf.githubToken == "" {
		return nil, nil, errors.New("github-token or GITHUB_TOKEN required")
	}

	db, err := openDB(ctx, cf.databaseURL)
	if err != nil {
		return nil, nil, err
	}

	store := state.NewStore(db)
	if err := store.ApplyMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	model, err := buildModel(cf)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	hosting, err := vcs.NewClient(ctx, cf.githubToken)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var archiver *artifacts.S3Archiver
	if cf.s3Bucket != "" {
		archiver, err = artifacts.NewS3Archiver(ctx, artifacts.S3Config{
			Bucket: cf.s3Bucket,
			Prefix: cf.s3Prefix,
			Region: cf.s3Region,
		})
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	githubToken := cf.githubToken
	openWorkspace := func(ctx context.Context, repoURL, baseBranch string) (pipeline.Workspace, error) {
		return workspace.Clone(ctx, repoURL, baseBranch, githubToken)
	}

	service := pipeline.NewService(pipeline.Config{
		Store:         store,
		Auditor:       &pipeline.HTTPAuditClient{Endpoint: cf.auditEndpoint, Token: cf.auditToken},
		LLM:           pipeline.NewLangChainClient(model, 8000),
		Hosting:       hosting,
		OpenWorkspace: openWorkspace,
		Archiver:      archiver,
		Logger:        observability.NewLogger("pipeline"),
		Metrics:       observability.NewMetrics(nil),
	})
	return service, db, nil
}

func buildModel(cf *commonFlags) (llms.Model, error) {
	if cf.llmAPIKey == "" {
		return nil, errors.New("llm-api-key or LLM_API_KEY required")
	}

	switch cf.llmProvider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cf.llmAPIKey)}
		if cf.llmModel != "" {
			opts = append(opts, anthropic.WithModel(cf.llmModel))
		}
		return anthropic.New(opts...)
	case "openai", "openrouter":
		opts := []openai.Option{openai.WithToken(cf.llmAPIKey)}
		if cf.llmModel != "" {
			opts = append(opts, openai.WithModel(cf.llmModel))
		}
		baseURL := cf.llmBaseURL
		if baseURL == "" && cf.llmProvider == "openrouter" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cf.llmProvider)
	}
}

func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
