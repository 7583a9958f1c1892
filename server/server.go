package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/vctt94/snapcall/server/serverdb"
	"github.com/vctt94/snapcall/snapgame"
)

// ServerConfig carries everything NewServer needs.
type ServerConfig struct {
	// ListenAddr is the HTTP bind address, e.g. ":4321".
	ListenAddr string
	// RoundDuration is the OPEN-phase length in seconds; zero means the
	// game default.
	RoundDuration int64
	// BalanceDBPath locates the bbolt balance database. Ignored when
	// Balances is set.
	BalanceDBPath string

	Log slog.Logger
	// Balances overrides the default bolt-backed store, mainly for
	// tests.
	Balances serverdb.BalanceStore
}

// Server is the HTTP boundary of the game: it owns the single
// GameCoordinator instance and the balance store and serializes every
// mutation through them.
type Server struct {
	coordinator *snapgame.Coordinator
	balances    serverdb.BalanceStore
	log         slog.Logger
	httpServer  *http.Server
}

// NewServer builds the process-wide server. The coordinator is constructed
// here, once, and handed to the request handlers by reference; there is no
// module-level game state.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("log is nil")
	}

	balances := cfg.Balances
	if balances == nil {
		if cfg.BalanceDBPath == "" {
			return nil, fmt.Errorf("balance db path required")
		}
		var err error
		balances, err = serverdb.NewBoltDB(cfg.BalanceDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	s := &Server{
		coordinator: snapgame.NewCoordinator(snapgame.CoordinatorConfig{
			RoundDuration: cfg.RoundDuration,
			Log:           cfg.Log,
		}),
		balances: balances,
		log:      cfg.Log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/round-state", s.handleRoundState)
	mux.HandleFunc("/balance", s.handleBalance)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Coordinator exposes the game state owner, mainly for embedding callers.
func (s *Server) Coordinator() *snapgame.Coordinator {
	return s.coordinator
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully and
// closes the balance store.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.log.Infof("http server listening on %s", ln.Addr())

	// Game snapshots stream through the coordinator's subscription; the
	// server tails it for operational logging.
	snaps, cancelSub := s.coordinator.Subscribe()
	defer cancelSub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return nil
				}
				s.log.Tracef("state: round=%d phase=%s pot=%d bets=%d",
					snap.RoundID, snap.Status, snap.Pot, len(snap.Bets))
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		if cerr := s.balances.Close(); err == nil {
			err = cerr
		}
		return err
	})
	return g.Wait()
}
