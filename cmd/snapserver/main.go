package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"

	"github.com/vctt94/snapcall/server"
)

var (
	flagListen   = flag.String("listen", "", "Address to listen on, host:port")
	flagDataDir  = flag.String("datadir", "", "Directory for logs and the balance database")
	flagDuration = flag.Int64("roundsecs", 0, "Betting window length in seconds")
	flagDebug    = flag.String("debug", "", "Log level (trace, debug, info, warn, error)")
)

// serverEnv carries the environment overrides. Flags win over env,
// env wins over defaults.
type serverEnv struct {
	ListenAddr    string `env:"SNAPCALL_LISTEN" envDefault:":8080"`
	DataDir       string `env:"SNAPCALL_DATADIR"`
	RoundDuration int64  `env:"SNAPCALL_ROUND_SECS" envDefault:"15"`
	Debug         string `env:"SNAPCALL_DEBUG" envDefault:"info"`
}

func realMain() error {
	flag.Parse()

	var cfg serverEnv
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if *flagListen != "" {
		cfg.ListenAddr = *flagListen
	}
	if *flagDataDir != "" {
		cfg.DataDir = *flagDataDir
	}
	if *flagDuration > 0 {
		cfg.RoundDuration = *flagDuration
	}
	if *flagDebug != "" {
		cfg.Debug = *flagDebug
	}
	if cfg.DataDir == "" {
		cfg.DataDir = utils.AppDataDir("snapserver", false)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	useStdout := true
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(cfg.DataDir, "logs", "snapserver.log"),
		DebugLevel:     cfg.Debug,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return err
	}
	log := lb.Logger("SRVR")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(server.ServerConfig{
		ListenAddr:    cfg.ListenAddr,
		RoundDuration: cfg.RoundDuration,
		BalanceDBPath: filepath.Join(cfg.DataDir, "balances.db"),
		Log:           log,
	})
	if err != nil {
		return err
	}

	log.Infof("snapserver listening on %s", cfg.ListenAddr)
	return srv.Run(ctx)
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
