package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/harborline/harborline/internal/config"
	"github.com/harborline/harborline/internal/middleware"
	"github.com/harborline/harborline/internal/observe"
	"github.com/harborline/harborline/internal/pipeline/api"
	"github.com/harborline/harborline/internal/pipeline/artifact"
	"github.com/harborline/harborline/internal/pipeline/database"
	"github.com/harborline/harborline/internal/pipeline/executor"
	"github.com/harborline/harborline/internal/pipeline/governance"
	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/profile"
	"github.com/harborline/harborline/internal/pipeline/rollback"
	"github.com/harborline/harborline/internal/pipeline/service"
	"github.com/harborline/harborline/internal/pipeline/validate"
	"github.com/harborline/harborline/internal/pipeline/verify"
	"github.com/harborline/harborline/internal/remote"
)

func main() {
	_ = godotenv.Load()

	var configFile string
	flag.StringVar(&configFile, "f", "", "optional JSON config file overlaying env vars")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	configureLogging(cfg.Logging.Level)

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(cfg)
	case "deploy":
		runDeploy(cfg, args)
	case "rollback":
		runRollback(cfg, args)
	case "approve":
		runApprove(cfg, args)
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command (want serve, deploy, rollback or approve)")
	}
}

func configureLogging(level string) {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// deps is everything a command needs wired up.
type deps struct {
	cfg       *config.Config
	db        *database.Database
	resolver  *profile.Resolver
	pipeline  *service.Pipeline
	rollback  *rollback.Controller
	approvals *executor.RedisApprovalStore
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	db, err := database.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	profiles, err := profile.LoadProfiles(cfg.Pipeline.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	resolver, err := profile.NewResolver(profiles)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}

	freeze, err := governance.ParseFreezeWindow(cfg.Governance.FreezeWeekday, cfg.Governance.FreezeAfterHour, cfg.Governance.BlackoutDates)
	if err != nil {
		return nil, fmt.Errorf("freeze window: %w", err)
	}
	var scanner governance.VulnerabilityScanner
	if cfg.Governance.ScannerURL != "" {
		scanner = governance.NewScannerClient(cfg.Governance.ScannerURL)
	}
	var disk governance.DiskUsageSource
	if cfg.Governance.PrometheusURL != "" {
		prom, perr := observe.NewPrometheusClient(cfg.Governance.PrometheusURL)
		if perr != nil {
			return nil, fmt.Errorf("prometheus: %w", perr)
		}
		disk = prom
	}
	var waived []model.GovernanceCheckKind
	for _, w := range cfg.Governance.Waived {
		waived = append(waived, model.GovernanceCheckKind(w))
	}
	gate := governance.NewGate(governance.Config{
		MaxBackupAge:   parseDuration(cfg.Governance.MaxBackupAge, 24*time.Hour),
		DiskThreshold:  cfg.Governance.DiskThreshold,
		Freeze:         freeze,
		Waived:         waived,
		ConnectTimeout: parseDuration(cfg.Governance.ConnectTimeout, 5*time.Second),
	}, db, scanner, disk)

	runners := func(agentAddr string) remote.Runner {
		return remote.NewAgentClient("http://" + agentAddr)
	}

	exec := executor.New(executor.Config{
		ApprovalWait: parseDuration(cfg.Approval.WaitTimeout, 15*time.Minute),
		ApprovalPoll: parseDuration(cfg.Approval.PollInterval, 5*time.Second),
		LockTTL:      parseDuration(cfg.Pipeline.LockTTL, 30*time.Minute),
	}, db, executor.NewRedisApprovalStore(rdb), executor.NewRedisLeaseManager(rdb), runners)

	engine := validate.NewEngine(validate.Config{
		HealthRetries:    cfg.Validation.HealthRetries,
		RetryDelay:       parseDuration(cfg.Validation.RetryDelay, 5*time.Second),
		LatencyThreshold: parseDuration(cfg.Validation.LatencyThreshold, 500*time.Millisecond),
		LoadSamples:      cfg.Validation.LoadSamples,
		LoadSuccessRatio: cfg.Validation.LoadSuccessRatio,
	}, validate.NewHTTPProber(10*time.Second))

	verifier := verify.NewRunner(verify.DefaultStages(), cfg.Verify.ReportsDir)
	publisher := artifact.NewPublisher(cfg.Registry.Host, cfg.Registry.ImageName)

	pipeline := service.NewPipeline(resolver, verifier, publisher, gate, exec, engine, runners, cfg.Verify.SourceDir)
	rbc := rollback.NewController(rollback.Config{
		Registry:  cfg.Registry.Host,
		ImageName: cfg.Registry.ImageName,
	}, db, exec, engine)

	return &deps{
		cfg:       cfg,
		db:        db,
		resolver:  resolver,
		pipeline:  pipeline,
		rollback:  rbc,
		approvals: executor.NewRedisApprovalStore(rdb),
	}, nil
}

func runServe(cfg *config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server dependencies")
	}
	defer d.db.Close()

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.Authentication(cfg.Server.AuthToken))
	api.NewApi(router, d.pipeline, d.rollback, d.resolver, d.db, d.approvals)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.BindAddr).Msg("starting harborline api server")
		return router.Run(cfg.Server.BindAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		return ctx.Err()
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("harborline api server exit...")
}

func runDeploy(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	ref := fs.String("ref", "", "trigger reference (branch or tag)")
	commit := fs.String("commit", "", "commit identifier to build")
	initiator := fs.String("initiator", "cli", "who triggered this run")
	selector := fs.String("stages", "", "optional verification stage selector")
	_ = fs.Parse(args)
	if *ref == "" || *commit == "" {
		log.Fatal().Msg("deploy requires -ref and -commit")
	}

	ctx := context.Background()
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer d.db.Close()

	res, err := d.pipeline.Run(ctx, service.Input{
		Ref:           *ref,
		Commit:        *commit,
		Initiator:     *initiator,
		StageSelector: *selector,
	})
	printJSON(res)
	if err != nil {
		os.Exit(1)
	}
}

func runRollback(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	env := fs.String("environment", "", "environment tier to roll back")
	target := fs.String("target", "", "explicit target version tag (optional)")
	reason := fs.String("reason", "", "why this rollback is happening")
	initiator := fs.String("initiator", "cli", "who triggered this rollback")
	_ = fs.Parse(args)
	tier := model.Tier(*env)
	if !tier.Valid() || *reason == "" {
		log.Fatal().Msg("rollback requires -environment and -reason")
	}

	ctx := context.Background()
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dependencies")
	}
	defer d.db.Close()

	p, err := d.resolver.ByTier(tier)
	if err != nil {
		log.Fatal().Err(err).Msg("unknown environment")
	}
	rec, report, err := d.rollback.Rollback(ctx, p, rollback.Request{
		TargetVersion: *target,
		Reason:        *reason,
		Initiator:     *initiator,
	})
	printJSON(map[string]any{"rollback": rec, "smokeTest": report})
	if err != nil {
		os.Exit(1)
	}
}

func runApprove(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	requestID := fs.String("request", "", "waiting request ID")
	approver := fs.String("approver", "", "who is deciding")
	reject := fs.Bool("reject", false, "reject instead of approve")
	comment := fs.String("comment", "", "optional decision comment")
	_ = fs.Parse(args)
	if *requestID == "" || *approver == "" {
		log.Fatal().Msg("approve requires -request and -approver")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := executor.NewRedisApprovalStore(rdb)
	decision := &executor.Decision{
		RequestID: *requestID,
		Approved:  !*reject,
		Approver:  *approver,
		Comment:   *comment,
		DecidedAt: time.Now(),
	}
	if err := store.Decide(context.Background(), decision, 24*time.Hour); err != nil {
		log.Fatal().Err(err).Msg("failed to record decision")
	}
	printJSON(decision)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
