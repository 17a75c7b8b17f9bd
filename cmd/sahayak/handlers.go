package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/VyoJ/SahayakAI/internal/config"
	"github.com/VyoJ/SahayakAI/internal/dispatch"
	"github.com/VyoJ/SahayakAI/internal/gateway"
	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/VyoJ/SahayakAI/internal/monitoring"
	"github.com/VyoJ/SahayakAI/internal/storage"
	"github.com/VyoJ/SahayakAI/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	client *dispatch.Client
	store  storage.SessionStore
}

func loadApp(ctx context.Context, observer dispatch.Observer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, "sahayak")
	log := logger.GetDefault()

	clientCfg := dispatch.ConfigFrom(cfg)
	clientCfg.Logger = log.WithComponent("dispatch")
	clientCfg.Observer = observer
	client, err := dispatch.New(clientCfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, client: client, store: store}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("Failed to close session store", logger.Fields{"error": err})
	}
}

// conversation restores the named conversation from the store
func (a *app) conversation(ctx context.Context) (*dispatch.Conversation, error) {
	conv := dispatch.NewConversation(a.client,
		dispatch.WithConversationID(conversationID),
		dispatch.WithStore(a.store),
		dispatch.WithLogger(a.log.WithComponent("conversation")),
	)
	if err := conv.Resume(ctx); err != nil {
		return nil, err
	}
	return conv, nil
}

func runTask(cmd *cobra.Command, description string, idempotent, asJSON, raw bool) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	conv, err := a.conversation(ctx)
	if err != nil {
		return err
	}

	var opts []task.Option
	if idempotent {
		opts = append(opts, task.Idempotent())
	}
	result, err := conv.Submit(ctx, description, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case raw:
		fmt.Fprintln(out, result.Text)
	default:
		fmt.Fprintln(out, result.Summary)
	}
	return nil
}

func runReset(cmd *cobra.Command, remote bool) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	conv, err := a.conversation(ctx)
	if err != nil {
		return err
	}

	previous := conv.SessionID()
	if remote {
		err = conv.ResetRemote(ctx, a.client)
	} else {
		err = conv.Reset(ctx)
	}
	if err != nil {
		return err
	}

	if previous == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Conversation %q had no session\n", conversationID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Conversation %q reset (was session %s)\n", conversationID, previous)
	}
	return nil
}

func runSessionShow(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	conv, err := a.conversation(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Conversation: %s\n", conversationID)
	fmt.Fprintf(out, "State:        %s\n", conv.State())
	if conv.SessionID() == "" {
		return nil
	}
	fmt.Fprintf(out, "Session:      %s\n", conv.SessionID())
	fmt.Fprintf(out, "Bound at:     %s\n", conv.BoundAt().Format(time.RFC3339))

	info, err := a.client.GetSession(ctx, conv.SessionID())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info.State)
}

func runSessionMessages(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	conv, err := a.conversation(ctx)
	if err != nil {
		return err
	}
	if conv.SessionID() == "" {
		return fmt.Errorf("conversation %q has no session yet", conversationID)
	}

	messages, err := a.client.Messages(ctx, conv.SessionID())
	if err != nil {
		return err
	}
	for _, m := range messages {
		fmt.Fprintln(cmd.OutOrStdout(), string(m))
	}
	return nil
}

func runSessionList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	bindings, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(bindings) == 0 {
		fmt.Fprintln(out, "No stored conversations")
		return nil
	}
	for _, b := range bindings {
		fmt.Fprintf(out, "%-24s %-40s %s\n", b.ConversationID, b.SessionID, b.BoundAt.Format(time.RFC3339))
	}
	return nil
}

func runHealth(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	h, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (platform %s, %d screens, %d active sessions)\n",
		a.client.Endpoint(), h.Status, h.Platform, h.ScreensAvailable, h.ActiveSessions)
	if !h.Healthy() {
		return fmt.Errorf("remote reports status %q", h.Status)
	}
	return nil
}

func runScreens(cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.client.Screens(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, name := range s.Screens {
		marker := " "
		if i == s.PrimaryIndex {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d %s\n", marker, i, name)
	}
	return nil
}

func runServe(cmd *cobra.Command, addr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx, metrics)
	if err != nil {
		return err
	}
	defer a.close()

	if addr == "" {
		addr = a.cfg.Gateway.ListenAddr
	}
	gw, err := gateway.New(gateway.Config{
		Addr:           addr,
		Remote:         a.client,
		Store:          a.store,
		Policy:         a.client.Policy(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WriteTimeout:   a.cfg.Remote.Timeout*2 + time.Minute,
		Logger:         a.log.WithComponent("gateway"),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// exitCode gives scripts a stable code per failure kind
func exitCode(err error) int {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		return 1
	}
	switch de.Kind {
	case dispatch.KindInvalidInput:
		return 2
	case dispatch.KindConcurrentSession:
		return 3
	case dispatch.KindAuth:
		return 4
	case dispatch.KindRateLimited:
		return 5
	case dispatch.KindTimeout:
		return 6
	case dispatch.KindConnection:
		return 7
	case dispatch.KindRemoteTask:
		return 8
	case dispatch.KindProtocol:
		return 9
	default:
		return 1
	}
}
