package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"
	"golang.org/x/sync/errgroup"

	"github.com/vctt94/snapcall/snapgame"
)

var (
	flagServer   = flag.String("server", "http://localhost:8080", "Base URL of the round server")
	flagDataDir  = flag.String("datadir", "", "Directory for logs")
	flagInterval = flag.Duration("interval", 2*time.Second, "Poll interval")
	flagDebug    = flag.String("debug", "info", "Log level")
)

// botIdentity is one simulated bettor.
type botIdentity struct {
	address string
	name    string
}

var botIdentities = []botIdentity{
	{address: "0xb0t0000000000000000000000000000000000001", name: "whale.eth"},
	{address: "0xb0t0000000000000000000000000000000000002", name: "degen.eth"},
	{address: "0xb0t0000000000000000000000000000000000003", name: "scalper.eth"},
	{address: "0xb0t0000000000000000000000000000000000004", name: "hodler.eth"},
}

// betChance is the per-poll probability that an idle bot places a bet
// while the round is open.
const betChance = 0.3

type betPayload struct {
	Address     string `json:"address"`
	Prediction  string `json:"prediction"`
	Amount      int64  `json:"amount"`
	DisplayName string `json:"displayName"`
}

type roundStateRequest struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type bot struct {
	identity botIdentity
	baseURL  string
	client   *http.Client
	rng      *rand.Rand
	log      slog.Logger

	// betRound is the last round this bot bet in; one bet per round.
	betRound int64
}

func (b *bot) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.poll(ctx); err != nil {
				b.log.Warnf("%s: poll failed: %v", b.identity.name, err)
			}
		}
	}
}

func (b *bot) poll(ctx context.Context) error {
	snap, err := b.fetchState(ctx)
	if err != nil {
		return err
	}
	if snap.Status != snapgame.PhaseOpen || snap.RoundID == b.betRound {
		return nil
	}
	if b.rng.Float64() >= betChance {
		return nil
	}

	prediction := snapgame.OutcomeRun
	if b.rng.Intn(2) == 1 {
		prediction = snapgame.OutcomePass
	}
	amount := int64(10 + b.rng.Intn(90))

	if err := b.placeBet(ctx, prediction, amount); err != nil {
		return err
	}
	b.betRound = snap.RoundID
	b.log.Infof("%s bet %d on %s (round %d, pot %d)",
		b.identity.name, amount, prediction, snap.RoundID, snap.Pot)
	return nil
}

func (b *bot) fetchState(ctx context.Context) (*snapgame.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/round-state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var snap snapgame.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &snap, nil
}

func (b *bot) placeBet(ctx context.Context, prediction snapgame.Outcome, amount int64) error {
	body, err := json.Marshal(roundStateRequest{
		Type: "BET",
		Payload: betPayload{
			Address:     b.identity.address,
			Prediction:  string(prediction),
			Amount:      amount,
			DisplayName: b.identity.name,
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/round-state", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bet rejected with status %s", resp.Status)
	}
	return nil
}

func realMain() error {
	flag.Parse()

	dataDir := *flagDataDir
	if dataDir == "" {
		dataDir = utils.AppDataDir("snapbot", false)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	useStdout := true
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(dataDir, "logs", "snapbot.log"),
		DebugLevel:     *flagDebug,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return err
	}
	log := lb.Logger("BOT")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	httpClient := &http.Client{Timeout: 10 * time.Second}
	for i, identity := range botIdentities {
		b := &bot{
			identity: identity,
			baseURL:  *flagServer,
			client:   httpClient,
			rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
			log:      log,
		}
		g.Go(func() error { return b.run(gctx, *flagInterval) })
	}

	log.Infof("%d bots polling %s every %s", len(botIdentities),
		*flagServer, *flagInterval)
	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
