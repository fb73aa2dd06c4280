package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Roulette/internal/client/connmgr"
	"github.com/dkeye/Roulette/internal/client/media"
	"github.com/dkeye/Roulette/internal/client/session"
	"github.com/dkeye/Roulette/internal/config"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "roulette-client",
	Short: "Headless client for the Roulette signaling server",
	Long: `Connects to a Roulette server, then reads commands from stdin:

  find [text|video]   search for a partner
  cancel              stop searching
  skip                leave the call and search again
  leave               leave the call
  say <message>       send a chat message
  typing              show the typing indicator
  cam on|off          toggle the camera
  mic on|off          toggle the microphone
  status              print the current state
  quit                disconnect and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.String("server", "", "signaling websocket url")
	f.String("token-url", "", "token endpoint url")
	f.Int("reconnect-attempts", 0, "reconnect attempts after an abnormal close")
	f.Duration("gate-stale-after", 0, "age after which a stuck operation is force-cleared")
	f.StringSlice("stun", nil, "STUN server urls")
	f.Bool("debug", false, "debug logging")

	_ = v.BindPFlag("server_url", f.Lookup("server"))
	_ = v.BindPFlag("token_url", f.Lookup("token-url"))
	_ = v.BindPFlag("reconnect_attempts", f.Lookup("reconnect-attempts"))
	_ = v.BindPFlag("gate_stale_after", f.Lookup("gate-stale-after"))
	_ = v.BindPFlag("stun_urls", f.Lookup("stun"))
	_ = v.BindPFlag("debug", f.Lookup("debug"))
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("client exited")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return err
	}
	if v.GetBool("debug") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	pool := connmgr.NewPool(connmgr.WSDialer{ReadLimit: 1 << 15}, connmgr.PoolOptions{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
		DialTimeout:       cfg.ConnectTimeout,
	})
	defer pool.CloseAll()

	m := session.New(session.Options{
		Pool:              pool,
		Engine:            media.NewPionEngine(media.DefaultWebRTCConfig(cfg.STUNURLs)),
		Tokens:            session.NewHTTPTokenSource(cfg.TokenURL, cfg.TokenTimeout, cfg.TokenRetries, cfg.TokenBackoff),
		ServerURL:         cfg.ServerURL,
		GateStaleAfter:    cfg.GateStaleAfter,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBackoff:  cfg.ReconnectBackoff,
		TypingIdle:        cfg.TypingIdle,
		Observer:          session.ObserverFunc(printEvent),
	})

	if err := m.Connect(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return m.Disconnect(context.Background())
		case line, ok := <-lines:
			if !ok {
				return m.Disconnect(context.Background())
			}
			c, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if c.name == "" {
				continue
			}
			quit, err := execute(ctx, m, c)
			if err != nil {
				fmt.Println(session.StatusOf(err).Message)
			}
			if quit {
				return nil
			}
		}
	}
}

func printEvent(e session.Event) {
	switch e.Kind {
	case session.EventState:
		fmt.Printf("* %s\n", e.State)
	case session.EventOnline:
		fmt.Printf("* %d online\n", e.Count)
	case session.EventChat:
		fmt.Printf("stranger: %s\n", e.Text)
	case session.EventTyping:
		if e.Typing {
			fmt.Println("* stranger is typing")
		}
	case session.EventRemoteMedia:
		fmt.Printf("* stranger camera=%v mic=%v\n", e.Media.Camera, e.Media.Mic)
	case session.EventRemoteTrack:
		fmt.Printf("* receiving %s\n", e.Text)
	case session.EventNotice:
		fmt.Printf("* %s\n", e.Text)
	case session.EventFailure:
		fmt.Printf("! %s\n", e.Status.Message)
	}
}
