package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/gateway"
	"github.com/rahul/autopilot/internal/observability"
)

func newServeCmd() *cobra.Command {
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant behind its chat gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dashboard {
				observability.PrintBanner()
				observability.InitializeTerminal()
				defer observability.CleanupTerminal()
			}
			return withApp(true, func(a *app) error {
				return serve(cmd.Context(), a, dashboard)
			})
		},
	}
	cmd.Flags().BoolVar(&dashboard, "dashboard", true, "draw the live status line")
	return cmd
}

func serve(parent context.Context, a *app, dashboard bool) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	handler := gateway.NewHandler(a.orch, a.history, a.gate)

	var gateways []gateway.Messenger
	var monitor *agent.ProgressMonitor
	if tgCfg, ok := a.cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, handler, tgCfg.ChannelID)
		if err != nil {
			return err
		}
		gateways = append(gateways, tg)
		if tgCfg.ChannelID != "" {
			monitor = agent.NewProgressMonitor(a.state, tg, tgCfg.ChannelID)
		}
	}
	if dcCfg, ok := a.cfg.GetGateway("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, handler, dcCfg.ChannelID)
		if err != nil {
			return err
		}
		gateways = append(gateways, dc)
		if monitor == nil && dcCfg.ChannelID != "" {
			monitor = agent.NewProgressMonitor(a.state, dc, dcCfg.ChannelID)
		}
	}
	if len(gateways) == 0 {
		return errors.New("no gateway is enabled; enable telegram or discord in the config")
	}

	if st, ok := a.state.State(); ok {
		log.Printf("Found execution %s (%s) for goal: %s", st.RunID, st.Status, st.Goal)
	}

	if monitor != nil {
		go monitor.Start(ctx)
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("Metrics listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// Start Live Resource Dashboard (1-second updates)
	if dashboard {
		go func() {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				a.logger.LogHeartbeat()
			}
		}
	}()

	for _, g := range gateways {
		go func(g gateway.Messenger) {
			if err := g.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop() // stop caller if gateway dies
			}
		}(g)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Stopping a gateway cancels the context of any execution it started,
	// which then stops before its next step and stays resumable.
	for _, g := range gateways {
		g.Stop()
	}

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}
