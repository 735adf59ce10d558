package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/whoisai/backend/registry"
	httpServer "github.com/whoisai/backend/server/http"
	websocketServer "github.com/whoisai/backend/server/websocket"
	"github.com/whoisai/backend/service"
	store "github.com/whoisai/backend/storage/memory"
)

const (
	releaseVersion = "0.1.0"
)

type config struct {
	apiListenAddr string
	wsListenAddr  string
	logLevel      string
	roomTTL       time.Duration
	pruneInterval time.Duration
	publicURL     string
}

func main() {
	cfg := &config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WHOISAI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "whoisai-server",
		Short:         "Real-time coordination backend for the Who is AI? party game.",
		Args:          cobra.ExactArgs(0),
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.apiListenAddr, "api-listen-addr", "a", ":8080", "api listen address (env: WHOISAI_API_LISTEN_ADDR)")
	fs.StringVarP(&cfg.wsListenAddr, "ws-listen-addr", "w", ":8888", "websocket listen address (env: WHOISAI_WS_LISTEN_ADDR)")
	fs.StringVarP(&cfg.logLevel, "log-level", "l", "debug", "log level (env: WHOISAI_LOG_LEVEL)")
	fs.DurationVar(&cfg.roomTTL, "room-ttl", 30*time.Minute, "time before rooms with no sessions are removed, 0 disables (env: WHOISAI_ROOM_TTL)")
	fs.DurationVar(&cfg.pruneInterval, "prune-interval", time.Minute, "how often idle rooms are checked for expiry (env: WHOISAI_PRUNE_INTERVAL)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "external base url embedded in QR codes (env: WHOISAI_PUBLIC_URL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("whoisai-server v{{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config) error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	logger = logger.Level(lvl)

	rooms := store.NewStore(&logger)
	reg := registry.New(&logger)
	svc := service.NewService(service.Config{
		Store:    rooms,
		Registry: reg,
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		GameService: svc,
		ListenAddr:  cfg.apiListenAddr,
		PublicURL:   cfg.publicURL,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     cfg.wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go rooms.Run(ctx, cfg.roomTTL, cfg.pruneInterval)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
	return nil
}
