package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"

	"github.com/vctt94/snapcall/client"
	"github.com/vctt94/snapcall/snapgame"
)

var (
	flagURL          = flag.String("url", "wss://clearnet.yellow.com/ws", "URL of the settlement node websocket endpoint")
	flagCounterparty = flag.String("counterparty", "", "Settlement node address to open the session against")
	flagKey          = flag.String("key", "", "32-byte private key in hex; generated when empty")
	flagDataDir      = flag.String("datadir", "", "Directory for logs and session recovery state")
	flagAmount       = flag.Int64("amount", 0, "Stake to place")
	flagPrediction   = flag.String("prediction", "", "Side to back: RUN or PASS")
	flagDebug        = flag.String("debug", "info", "Log level")
)

func realMain() error {
	flag.Parse()

	if *flagCounterparty == "" {
		return fmt.Errorf("counterparty is required")
	}
	if *flagAmount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	prediction := snapgame.Outcome(strings.ToUpper(*flagPrediction))
	if !prediction.Valid() {
		return fmt.Errorf("prediction must be RUN or PASS")
	}

	dataDir := *flagDataDir
	if dataDir == "" {
		dataDir = utils.AppDataDir("snapclient", false)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	useStdout := false
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(dataDir, "logs", "snapclient.log"),
		DebugLevel:     *flagDebug,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return err
	}
	log := lb.Logger("CLNT")

	var signer *client.SchnorrSigner
	if *flagKey != "" {
		signer, err = client.NewSchnorrSignerFromHex(*flagKey)
	} else {
		signer, err = client.NewSchnorrSigner()
	}
	if err != nil {
		return fmt.Errorf("failed to build signer: %w", err)
	}
	id := signer.PubKeyHex()
	fmt.Printf("identity: %s\n", id)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := client.NewSettleClient(id, &client.SettleClientCfg{
		Counterparty: *flagCounterparty,
		DataDir:      dataDir,
		Transport:    client.NewWSTransport(*flagURL),
		Signer:       signer,
		Log:          log,
	})
	if err != nil {
		return err
	}
	defer sc.Close()

	done := make(chan struct{}, 1)
	ntfns := sc.Notifications()
	ntfns.Register(client.OnSessionReadyNtfn(func(sessionID string, ts time.Time) {
		fmt.Printf("session active: %s\n", sessionID)
	}))
	ntfns.Register(client.OnBetPlacedNtfn(func(amount int64, prediction snapgame.Outcome, ts time.Time) {
		fmt.Printf("bet sent: %d on %s\n", amount, prediction)
	}))
	ntfns.Register(client.OnPayoutNtfn(func(amount int64, ts time.Time) {
		fmt.Printf("payout received: %d\n", amount)
	}))
	ntfns.Register(client.OnResultNtfn(func(result json.RawMessage, ts time.Time) {
		fmt.Printf("round result: %s\n", result)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	ntfns.Register(client.OnErrorNtfn(func(errBody json.RawMessage, ts time.Time) {
		fmt.Fprintf(os.Stderr, "node error: %s\n", errBody)
	}))

	if err := sc.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *flagURL, err)
	}
	if err := sc.PlaceBet(ctx, *flagAmount, prediction); err != nil {
		return err
	}

	// Stay connected until the round settles or the user interrupts.
	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
