// Command voicebot is a headless participant. It walks a loop of waypoints and
// opens voice links to whoever it meets.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/proximity/internal/adapters/rtc"
	"github.com/dkeye/proximity/internal/client"
	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/peer"
	"github.com/dkeye/proximity/internal/proximity"
)

type options struct {
	url       string
	name      string
	tick      time.Duration
	threshold float64
	path      string
	speed     float64
	stun      string
	verbose   bool
}

func main() {
	var o options

	cmd := &cobra.Command{
		Use:   "voicebot",
		Short: "Headless participant that walks the space and joins voice clusters",
		Long: `voicebot connects to a proximity server, joins under a name and walks
a closed loop of waypoints. Every tick it recomputes clusters from its own
view and opens or closes peer links to the participants near it.

Examples:
  voicebot --url ws://localhost:8080/ws
  voicebot --name bot2 --path "0,0;300,0" --tick 50ms`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, o)
		},
	}

	cmd.Flags().StringVar(&o.url, "url", "ws://localhost:8080/ws", "Signal socket URL")
	cmd.Flags().StringVar(&o.name, "name", "voicebot", "Display name")
	cmd.Flags().DurationVar(&o.tick, "tick", 100*time.Millisecond, "Movement and clustering interval")
	cmd.Flags().Float64Var(&o.threshold, "threshold", proximity.DefaultThreshold, "Proximity threshold in pixels")
	cmd.Flags().StringVar(&o.path, "path", "0,0;200,0;200,200;0,200", "Waypoints as x,y;x,y;...")
	cmd.Flags().Float64Var(&o.speed, "speed", 5, "Pixels moved per tick")
	cmd.Flags().StringVar(&o.stun, "stun", "stun:stun.l.google.com:19302", "STUN server, empty for host candidates only")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if o.tick <= 0 || o.threshold <= 0 || o.speed < 0 {
		return errors.New("tick and threshold must be positive, speed non-negative")
	}
	waypoints, err := parsePath(o.path)
	if err != nil {
		return err
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	c, err := client.Dial(dialCtx, o.url, client.Options{})
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.url, err)
	}
	defer c.Close()

	rtcCfg := webrtc.Configuration{}
	if o.stun != "" {
		rtcCfg = rtc.DefaultWebRTCConfig()
		rtcCfg.ICEServers[0].URLs = []string{o.stun}
	}
	mgr := peer.NewManager(rtc.NewDialer(rtcCfg), c)
	defer mgr.Close()

	c.OnSignal(func(from domain.ParticipantID, payload json.RawMessage) {
		if err := mgr.HandleSignal(from, payload); err != nil {
			log.Debug().Err(err).Str("module", "voicebot").Str("from", string(from)).Msg("signal ignored")
		}
	})
	c.OnLeft(mgr.Forget)

	init, err := c.Join(dialCtx, o.name)
	if err != nil {
		return err
	}
	log.Info().Str("module", "voicebot").Str("id", string(init.SelfID)).Str("name", init.Self.Name).
		Int("present", len(init.Participants)).Msg("joined")

	engine := proximity.DefaultEngine()
	engine.Threshold = o.threshold
	w := newWalker(waypoints, o.speed)
	if err := c.Move(w.Position().X, w.Position().Y); err != nil {
		return err
	}

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	var prev []peer.Link
	for {
		select {
		case <-ctx.Done():
			_ = c.Leave()
			log.Info().Str("module", "voicebot").Msg("leaving")
			return nil
		case <-c.Done():
			return errors.New("connection closed by server")
		case <-ticker.C:
			pos := w.Step()
			if err := c.Move(pos.X, pos.Y); err != nil {
				return err
			}
			clusters := engine.Compute(c.Participants())
			mgr.Update(c.Self(), clusters)
			prev = logLinkChanges(prev, mgr.Links())
		}
	}
}

func logLinkChanges(prev, cur []peer.Link) []peer.Link {
	before := make(map[domain.ParticipantID]peer.State, len(prev))
	for _, l := range prev {
		before[l.Remote] = l.State
	}
	for _, l := range cur {
		if s, ok := before[l.Remote]; !ok || s != l.State {
			log.Info().Str("module", "voicebot").Str("remote", string(l.Remote)).
				Str("state", l.State.String()).Bool("initiator", l.Initiator).Msg("link")
		}
		delete(before, l.Remote)
	}
	for id := range before {
		log.Info().Str("module", "voicebot").Str("remote", string(id)).Str("state", peer.Unconnected.String()).Msg("link")
	}
	return cur
}
