package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rescp17/callKit/api"
	"github.com/rescp17/callKit/internal/config"
	"github.com/rescp17/callKit/pkg/call"
	"github.com/rescp17/callKit/pkg/locus"
	"github.com/rescp17/callKit/pkg/media"
	"github.com/rescp17/callKit/pkg/ui"
)

func main() {
	// The TUI owns the terminal, so logs go to a file.
	f, _ := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()
	zlog.Logger = zerolog.New(f).With().Timestamp().Logger()

	var audioOnly bool
	cmd := &cobra.Command{
		Use:   "callkit",
		Short: "Place and receive calls from the terminal",
	}
	cmd.PersistentFlags().BoolVar(&audioOnly, "audio-only", false, "Disable video capture")

	dialCmd := &cobra.Command{
		Use:   "dial <address>",
		Short: "Place an outbound call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd.Context(), args[0], audioOnly)
		},
	}

	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for an inbound call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWait(cmd.Context())
		},
	}

	cmd.AddCommand(dialCmd)
	cmd.AddCommand(waitCmd)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

// buildOptions assembles the call collaborators from config: the HTTP
// session client, device registrar, metrics submitter, and a fresh pion
// media engine.
func buildOptions(cfg *config.Config, cons media.Constraints) (call.Options, error) {
	client := api.NewClient(cfg.APIURL, cfg.Token)

	var ice []webrtc.ICEServer
	for _, u := range cfg.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{u}})
	}
	engine, err := media.NewEngine(media.EngineConfig{ICEServers: ice}, cons)
	if err != nil {
		return call.Options{}, fmt.Errorf("failed to create media engine: %w", err)
	}

	return call.Options{
		Service:             client,
		Registrar:           api.NewDeviceRegistrar(client),
		Media:               engine,
		Metrics:             api.NewMetrics(client),
		PollAttempts:        cfg.PollAttempts,
		RenegotiateDebounce: cfg.RenegotiateDebounce,
	}, nil
}

func constraintsFor(audioOnly bool) media.Constraints {
	return media.Constraints{
		Audio: true,
		Video: media.VideoConstraint{Enabled: !audioOnly, FacingMode: media.FacingModeUser},
	}
}

func runDial(ctx context.Context, target string, audioOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cons := constraintsFor(audioOnly)

	opts, err := buildOptions(cfg, cons)
	if err != nil {
		return err
	}
	c, err := call.New(opts)
	if err != nil {
		return err
	}

	feed := api.NewEventFeed(cfg.EventsURL, cfg.Token)
	if err := feed.Dial(ctx); err != nil {
		return err
	}
	defer feed.Close()
	c.ConsumeUpdates(feed.Subscribe())

	c.Dial(ctx, target, call.JoinOptions{Constraints: &cons})

	p := tea.NewProgram(ui.InitialModel(c))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal error: %w", err)
	}
	return nil
}

func runWait(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	feed := api.NewEventFeed(cfg.EventsURL, cfg.Token)
	if err := feed.Dial(ctx); err != nil {
		return err
	}
	defer feed.Close()
	updates, cancel := feed.Subscribe()

	fmt.Println("Waiting for a call...")
	var incoming *locus.Locus
	select {
	case incoming = <-updates:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	opts, err := buildOptions(cfg, constraintsFor(false))
	if err != nil {
		cancel()
		return err
	}
	c, err := call.NewIncoming(opts, incoming)
	if err != nil {
		cancel()
		return err
	}
	c.ConsumeUpdates(updates, cancel)

	if err := c.Acknowledge(ctx); err != nil {
		zlog.Warn().Err(err).Str("module", "cli").Msg("failed to acknowledge call")
	}

	p := tea.NewProgram(ui.InitialModel(c))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal error: %w", err)
	}
	return nil
}
