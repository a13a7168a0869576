package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/ignite/offertracker/internal/artifact"
	"github.com/ignite/offertracker/internal/cache"
	"github.com/ignite/offertracker/internal/config"
	"github.com/ignite/offertracker/internal/llm"
	"github.com/ignite/offertracker/internal/pipeline"
)

func main() {
	var (
		configPath = flag.String("config", "", "optional YAML config file")

		source    = flag.String("source", "", "mail source: gmail, outlook, sample, csv")
		email     = flag.String("email", "", "mailbox address to scan")
		start     = flag.String("start", "", "scan start date (YYYY-MM-DD, inclusive)")
		end       = flag.String("end", "", "scan end date (YYYY-MM-DD, inclusive)")
		days      = flag.Int("days", 0, "shorthand: scan the last N days ending today")
		outDir    = flag.String("out-dir", "", "artifact output directory")
		title     = flag.String("title", "", "diagram title")
		maxMsgs   = flag.Int("max-messages", 0, "fetch cap (1..5000)")
		creds     = flag.String("credentials", "", "gmail OAuth credentials file")
		tokenDir  = flag.String("token-dir", "", "stored OAuth token directory")
		csvPath   = flag.String("csv-path", "", "input file for the csv source")
		queryMode = flag.String("gmail-query-mode", "", "gmail query mode: strict or broad")
		noAuth    = flag.Bool("no-interactive-auth", false, "fail instead of opening a browser for OAuth")

		dryRun      = flag.Bool("dry-run", false, "classify and summarize without writing artifacts")
		debugSample = flag.Bool("debug-sample", false, "print a random sample of per-message decisions")

		audit       = flag.Bool("audit", false, "write the audit table")
		report      = flag.Bool("report", false, "write the rule-hit markdown report")
		keyDebug    = flag.Bool("key-debug", false, "write application-key debug CSVs")
		domainDebug = flag.Bool("domain-debug", false, "write the per-message domain report")
		reconcile   = flag.Bool("reconcile", false, "write the OA reconciliation CSVs")
		firstScan   = flag.Bool("first-scan-report", false, "write the first-scan keep/drop report")

		aiClassify = flag.Bool("ai-classify", false, "run the LLM classification path")
		aiModel    = flag.String("ai-model", "", "LLM model id")
		aiBaseURL  = flag.String("ai-base-url", "", "OpenAI-compatible base URL")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	startDate, endDate := *start, *end
	if *days > 0 && startDate == "" {
		today := time.Now().UTC()
		endDate = today.Format("2006-01-02")
		startDate = today.AddDate(0, 0, -*days).Format("2006-01-02")
	}

	opts := pipeline.Options{
		Source:               firstNonEmpty(*source, cfg.Mail.Source),
		Email:                firstNonEmpty(*email, cfg.Mail.Email),
		StartDate:            startDate,
		EndDate:              endDate,
		OutDir:               firstNonEmpty(*outDir, cfg.Artifacts.OutDir),
		Title:                firstNonEmpty(*title, cfg.Render.Title),
		Watermark:            cfg.Render.Watermark,
		MaxMessages:          firstNonZero(*maxMsgs, cfg.Mail.MaxMessages),
		CredentialsPath:      firstNonEmpty(*creds, cfg.Gmail.CredentialsPath),
		TokenDir:             firstNonEmpty(*tokenDir, cfg.Mail.TokenDir),
		CSVPath:              firstNonEmpty(*csvPath, cfg.Mail.CSVPath),
		GmailQueryMode:       firstNonEmpty(*queryMode, cfg.Gmail.QueryMode),
		AllowInteractiveAuth: !*noAuth,
		MailTimeout:          cfg.Mail.Timeout(),
		OutlookClientID:      cfg.Outlook.ClientID,
		OutlookClientSecret:  cfg.Outlook.ClientSecret,
		OutlookTenantID:      cfg.Outlook.TenantID,
		DryRun:               *dryRun,
		DebugSample:          *debugSample,
		Audit:                *audit,
		Report:               *report,
		KeyDebug:             *keyDebug,
		DomainDebug:          *domainDebug,
		Reconcile:            *reconcile,
		FirstScanReport:      *firstScan,
		AIClassify:           *aiClassify,
		AIModel:              firstNonEmpty(*aiModel, cfg.LLM.Model),
		AIBaseURL:            firstNonEmpty(*aiBaseURL, cfg.LLM.BaseURL),
		AIMaxBodyChars:       cfg.LLM.MaxBodyChars,
		AIConcurrency:        cfg.LLM.Concurrency,
		AITimeout:            cfg.LLM.Timeout(),
	}

	ctx := context.Background()

	if opts.AIClassify {
		if !cfg.LLM.Enabled {
			log.Println("LLM is disabled in config (llm.enabled: false), skipping AI classification")
			opts.AIClassify = false
		} else if llm.Disabled() {
			log.Println("LLM calls are disabled (DISABLE_LLM=1), skipping AI classification")
			opts.AIClassify = false
		} else if cfg.LLM.Provider == "bedrock" {
			client, err := llm.NewBedrockClient(ctx, cfg.LLM.Region, opts.AIModel, opts.AITimeout)
			if err != nil {
				log.Fatalf("initializing bedrock client: %v", err)
			}
			opts.Client = client
		}
		if opts.AIClassify {
			opts.Cache = buildCache(ctx, cfg.Cache)
			if opts.Cache != nil {
				defer opts.Cache.Close()
			}
		}
	}

	if cfg.Artifacts.S3Enabled && !opts.DryRun {
		uploader, err := artifact.NewS3Uploader(ctx, artifact.S3Config{
			Bucket: cfg.Artifacts.S3Bucket,
			Prefix: cfg.Artifacts.S3Prefix,
			Region: cfg.Artifacts.S3Region,
		})
		if err != nil {
			log.Printf("Warning: S3 uploader unavailable: %v", err)
		} else {
			opts.Uploader = uploader
		}
	}

	result, err := pipeline.Run(ctx, opts)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	printResult(result)
}

func buildCache(ctx context.Context, cfg config.CacheConfig) cache.Store {
	switch cfg.Type {
	case "local":
		store, err := cache.NewLocal(cfg.LocalPath, cfg.TTL())
		if err != nil {
			log.Printf("Warning: local verdict cache unavailable: %v", err)
			return nil
		}
		return store
	case "redis":
		store, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.TTL())
		if err != nil {
			log.Printf("Warning: redis verdict cache unavailable: %v", err)
			return nil
		}
		return store
	default:
		return nil
	}
}

func printResult(result *pipeline.RunResult) {
	fmt.Printf("\nRun %s complete\n\n", result.RunID)

	m, r := result.Metrics, result.Rates
	fmt.Println("Funnel:")
	fmt.Printf("  applications: %d\n", m.Applications)
	fmt.Printf("  replies:      %d (%.2f%%)\n", m.Replies, r.ReplyRatePct)
	fmt.Printf("  no replies:   %d\n", m.NoReplies)
	fmt.Printf("  oa:           %d\n", m.OA)
	fmt.Printf("  interviews:   %d\n", m.Interviews)
	fmt.Printf("  offers:       %d (%.2f%% of applications)\n", m.Offers, r.ApplicationToOfferPct)
	fmt.Printf("  rejected:     %d\n", m.Rejected)
	fmt.Printf("  withdrawn:    %d\n", m.Withdrawn)

	for _, line := range result.Summary {
		fmt.Println(line)
	}

	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	if len(result.Artifacts) > 0 {
		names := make([]string, 0, len(result.Artifacts))
		for name := range result.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("\nArtifacts:")
		for _, name := range names {
			fmt.Printf("  %s: %s\n", name, result.Artifacts[name])
		}
	}

	if len(result.DebugSamples) > 0 {
		fmt.Println("\nDecision samples:")
		for _, s := range result.DebugSamples {
			verdict := s.EventType
			if s.Ignored {
				verdict = "ignored:" + s.IgnoreReason
			}
			fmt.Printf("  %s | %s | %s | %s | %q\n",
				s.Date.Format("2006-01-02"), s.MessageID, s.FromDomain, verdict, s.Subject)
		}
	}

	_ = os.Stdout.Sync()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
