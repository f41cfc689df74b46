package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"AgentPay-Gate/internal/api"
	"AgentPay-Gate/internal/approval"
	"AgentPay-Gate/internal/audit"
	"AgentPay-Gate/internal/chains"
	"AgentPay-Gate/internal/config"
	"AgentPay-Gate/internal/orchestrator"
	"AgentPay-Gate/internal/policy"
	"AgentPay-Gate/internal/vault"
	"AgentPay-Gate/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentpayd: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Wallet.KeyFile), 0o700); err != nil {
		return err
	}
	wallet := vault.New(cfg.Wallet.KeyFile)

	registry := chains.NewRegistry()
	if cfg.Chains.File != "" {
		registry, err = chains.NewRegistryFromFile(cfg.Chains.File)
		if err != nil {
			return err
		}
	}

	var policies *policy.Holder
	if cfg.Policy.File != "" {
		p, err := policy.LoadFile(cfg.Policy.File)
		if err != nil {
			return err
		}
		policies = policy.NewHolder(p)
	} else {
		policies = policy.NewHolder(&policy.Policy{})
	}

	var approvals approval.Store
	switch cfg.Approvals.Driver {
	case "", "memory":
		approvals = approval.NewMemoryStore()
	case "mysql":
		approvals, err = approval.NewMySQLStore(cfg.Approvals.DSN)
		if err != nil {
			return err
		}
	case "redis":
		approvals, err = approval.NewRedisStore(approval.RedisStoreConfig{
			Address:  cfg.Approvals.Redis.Addr,
			Password: cfg.Approvals.Redis.Password,
			DB:       cfg.Approvals.Redis.DB,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown approval store driver: %s", cfg.Approvals.Driver)
	}
	defer func() {
		_ = approvals.Close()
	}()

	var sink audit.Sink
	switch cfg.Audit.Sink {
	case "", "log":
		sink = audit.NewLogSink(logger.Audit())
	case "rabbitmq":
		sink, err = audit.NewRabbitMQSink(audit.RabbitMQConfig{
			URL:     cfg.Audit.RabbitMQ.URL,
			Queue:   cfg.Audit.RabbitMQ.Queue,
			Durable: true,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown audit sink: %s", cfg.Audit.Sink)
	}
	defer func() {
		_ = sink.Close()
	}()

	orch, err := orchestrator.New(orchestrator.Config{
		Vault:          wallet,
		Chains:         registry,
		Policies:       policies,
		Approvals:      approvals,
		AuditSink:      sink,
		ConsentBaseURL: cfg.Server.ConsentBaseURL,
	})
	if err != nil {
		return err
	}

	var serverOpts []api.Option
	if cfg.Server.APIToken != "" {
		serverOpts = append(serverOpts, api.WithAPIToken(cfg.Server.APIToken))
	}
	server := api.NewServer(cfg.Server.Address, orch, wallet, approvals, policies, serverOpts...)

	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
