package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vctt94/snapcall/snapgame"
)

// fakeTransport is a channel-backed MessageTransport for tests.
type fakeTransport struct {
	mtx        sync.Mutex
	connectErr error
	connected  bool
	sent       [][]byte

	inbound chan []byte
	failed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 8),
		failed:  make(chan struct{}),
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mtx.Lock()
	t.connected = true
	t.mtx.Unlock()
	return nil
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.connected {
		return errors.New("send on closed transport")
	}
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) Next() ([]byte, error) {
	select {
	case payload := <-t.inbound:
		return payload, nil
	case <-t.failed:
		return nil, errors.New("connection dropped")
	}
}

func (t *fakeTransport) Close() error {
	t.fail()
	t.mtx.Lock()
	t.connected = false
	t.mtx.Unlock()
	return nil
}

// fail simulates the remote end dropping the connection.
func (t *fakeTransport) fail() {
	t.once.Do(func() { close(t.failed) })
}

func (t *fakeTransport) sentMsgs() [][]byte {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return append([][]byte(nil), t.sent...)
}

// waitForSends polls until at least n messages were sent.
func (t *fakeTransport) waitForSends(tt *testing.T, n int) [][]byte {
	tt.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := t.sentMsgs(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	tt.Fatalf("timed out waiting for %d sends", n)
	return nil
}

func okSigner() Signer {
	return SignerFunc(func(_ context.Context, msg []byte) ([]byte, error) {
		return []byte("sig:" + string(msg[:8])), nil
	})
}

func newTestClient(t *testing.T, tr *fakeTransport, opts func(*SettleClientCfg)) *SettleClient {
	t.Helper()
	cfg := &SettleClientCfg{
		Counterparty:   "0xclearnode",
		Asset:          "usdc",
		SeedAmount:     1000,
		SessionTimeout: 100 * time.Millisecond,
		Transport:      tr,
		Signer:         okSigner(),
		Log:            slog.Disabled,
	}
	if opts != nil {
		opts(cfg)
	}
	sc, err := NewSettleClient("0xplayer", cfg)
	require.NoError(t, err)
	return sc
}

// ackSession answers the next session-create with session_created.
func ackSession(t *testing.T, tr *fakeTransport, sessionID string) {
	t.Helper()
	go func() {
		tr.waitForSends(t, 1)
		tr.inbound <- []byte(fmt.Sprintf(`{"type":"session_created","sessionId":%q}`, sessionID))
	}()
}

func TestSettleClient_PlaceBetBeforeConnect(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)

	var betPlaced bool
	sc.Notifications().RegisterSync(OnBetPlacedNtfn(func(int64, snapgame.Outcome, time.Time) {
		betPlaced = true
	}))

	err := sc.PlaceBet(context.Background(), 10, snapgame.OutcomeRun)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tr.sentMsgs(), "nothing may be sent before connect")
	assert.False(t, betPlaced, "no optimistic notification for a failed bet")
}

func TestSettleClient_ConnectIdempotent(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)

	var connects int
	sc.Notifications().RegisterSync(OnConnectedNtfn(func(time.Time) { connects++ }))

	require.NoError(t, sc.Connect(context.Background()))
	require.NoError(t, sc.Connect(context.Background()))
	assert.True(t, sc.Connected())
	assert.Equal(t, 1, connects)
}

func TestSettleClient_ConnectFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("refused")
	sc := newTestClient(t, tr, nil)

	err := sc.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, sc.Connected())
}

func TestSettleClient_EnsureSession(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	ready := make(chan string, 1)
	sc.Notifications().RegisterSync(OnSessionReadyNtfn(func(id string, _ time.Time) {
		ready <- id
	}))

	ackSession(t, tr, "sess-1")
	require.NoError(t, sc.EnsureSession(context.Background()))

	assert.Equal(t, SessionActive, sc.SessionPhase())
	assert.Equal(t, "sess-1", sc.SessionID())
	select {
	case id := <-ready:
		assert.Equal(t, "sess-1", id)
	case <-time.After(time.Second):
		t.Fatal("no session_ready notification")
	}

	// The create message carries the signed definition and allocations.
	var msg sessionCreateMsg
	require.NoError(t, json.Unmarshal(tr.sentMsgs()[0], &msg))
	assert.Equal(t, sessionProtocol, msg.Definition.Protocol)
	assert.Equal(t, []string{"0xplayer", "0xclearnode"}, msg.Definition.Participants)
	assert.Equal(t, []int{50, 50}, msg.Definition.Weights)
	assert.Equal(t, sessionQuorum, msg.Definition.Quorum)
	assert.NotEmpty(t, msg.Definition.Challenge)
	assert.NotZero(t, msg.Definition.Nonce)
	require.Len(t, msg.Allocations, 2)
	assert.Equal(t, int64(1000), msg.Allocations[0].Amount)
	assert.NotEmpty(t, msg.Signature)
	assert.Equal(t, "0xplayer", msg.Sender)

	// Already active: no second negotiation.
	require.NoError(t, sc.EnsureSession(context.Background()))
	assert.Len(t, tr.sentMsgs(), 1)
}

func TestSettleClient_EnsureSessionTimeout(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	err := sc.EnsureSession(context.Background())
	assert.ErrorIs(t, err, ErrSessionTimeout)
	// Phase stays Pending so a later call may retry the same negotiation.
	assert.Equal(t, SessionPending, sc.SessionPhase())

	// Retry succeeds once the ack finally lands, without a second create.
	tr.inbound <- []byte(`{"type":"session_created","sessionId":"sess-2"}`)
	require.NoError(t, sc.EnsureSession(context.Background()))
	assert.Equal(t, SessionActive, sc.SessionPhase())
	assert.Len(t, tr.sentMsgs(), 1)
}

func TestSettleClient_SignerFailure(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, func(cfg *SettleClientCfg) {
		cfg.Signer = SignerFunc(func(context.Context, []byte) ([]byte, error) {
			return nil, errors.New("user rejected")
		})
	})
	require.NoError(t, sc.Connect(context.Background()))

	var betPlaced bool
	sc.Notifications().RegisterSync(OnBetPlacedNtfn(func(int64, snapgame.Outcome, time.Time) {
		betPlaced = true
	}))

	err := sc.PlaceBet(context.Background(), 10, snapgame.OutcomePass)
	assert.ErrorIs(t, err, ErrSigningFailed)
	assert.NotEqual(t, SessionActive, sc.SessionPhase())
	assert.Empty(t, tr.sentMsgs(), "failed signature must abort the send")
	assert.False(t, betPlaced)
}

func TestSettleClient_PlaceBet(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	type placed struct {
		amount     int64
		prediction snapgame.Outcome
	}
	placedCh := make(chan placed, 1)
	sc.Notifications().RegisterSync(OnBetPlacedNtfn(func(amount int64, prediction snapgame.Outcome, _ time.Time) {
		placedCh <- placed{amount, prediction}
	}))

	// First bet negotiates the session lazily.
	ackSession(t, tr, "sess-3")
	require.NoError(t, sc.PlaceBet(context.Background(), 25, snapgame.OutcomeRun))

	select {
	case p := <-placedCh:
		assert.Equal(t, int64(25), p.amount)
		assert.Equal(t, snapgame.OutcomeRun, p.prediction)
	case <-time.After(time.Second):
		t.Fatal("no bet_placed notification")
	}

	msgs := tr.waitForSends(t, 2)
	var pay paymentMsg
	require.NoError(t, json.Unmarshal(msgs[1], &pay))
	assert.Equal(t, "payment", pay.Type)
	assert.Equal(t, int64(25), pay.Amount)
	assert.Equal(t, "0xclearnode", pay.Recipient)
	assert.Equal(t, "RUN", pay.Prediction)
	assert.NotZero(t, pay.Timestamp)
	assert.NotEmpty(t, pay.Signature)
	assert.Equal(t, "0xplayer", pay.Sender)

	// Session already active: the next bet sends exactly one message.
	require.NoError(t, sc.PlaceBet(context.Background(), 5, snapgame.OutcomePass))
	tr.waitForSends(t, 3)
}

func TestSettleClient_PlaceBetValidation(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	err := sc.PlaceBet(context.Background(), 0, snapgame.OutcomeRun)
	assert.ErrorIs(t, err, snapgame.ErrInvalidAmount)
	err = sc.PlaceBet(context.Background(), 10, snapgame.Outcome("PUNT"))
	assert.ErrorIs(t, err, snapgame.ErrInvalidOutcome)
	assert.Empty(t, tr.sentMsgs())
}

func TestSettleClient_PayoutClearsMarker(t *testing.T) {
	tr := newFakeTransport()
	dir := t.TempDir()
	sc := newTestClient(t, tr, func(cfg *SettleClientCfg) { cfg.DataDir = dir })
	require.NoError(t, sc.Connect(context.Background()))

	payoutCh := make(chan int64, 1)
	sc.Notifications().RegisterSync(OnPayoutNtfn(func(amount int64, _ time.Time) {
		payoutCh <- amount
	}))

	ackSession(t, tr, "sess-4")
	require.NoError(t, sc.EnsureSession(context.Background()))
	assert.True(t, sc.marker.exists(), "negotiation must persist the recovery marker")

	tr.inbound <- []byte(`{"type":"payment","amount":120}`)
	select {
	case amount := <-payoutCh:
		assert.Equal(t, int64(120), amount)
	case <-time.After(time.Second):
		t.Fatal("no payout notification")
	}
	assert.False(t, sc.marker.exists(), "payout must clear the recovery marker")
}

func TestSettleClient_DisconnectAbandonsPending(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	_ = sc.EnsureSession(context.Background()) // times out, phase Pending
	require.Equal(t, SessionPending, sc.SessionPhase())

	tr.fail()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sc.Connected() {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, sc.Connected())
	assert.Equal(t, SessionNone, sc.SessionPhase())
	assert.Empty(t, sc.SessionID())
}

func TestSettleClient_MarkerTriggersRenegotiation(t *testing.T) {
	dir := t.TempDir()
	marker := newSessionMarker(dir)
	require.NoError(t, marker.set())

	tr := newFakeTransport()
	sc := newTestClient(t, tr, func(cfg *SettleClientCfg) { cfg.DataDir = dir })
	require.NoError(t, sc.Connect(context.Background()))

	// A session create goes out without any PlaceBet call.
	msgs := tr.waitForSends(t, 1)
	var msg sessionCreateMsg
	require.NoError(t, json.Unmarshal(msgs[0], &msg))
	assert.Equal(t, sessionProtocol, msg.Definition.Protocol)
}

func TestSettleClient_ErrorAndResultPassthrough(t *testing.T) {
	tr := newFakeTransport()
	sc := newTestClient(t, tr, nil)
	require.NoError(t, sc.Connect(context.Background()))

	errCh := make(chan json.RawMessage, 1)
	resCh := make(chan json.RawMessage, 1)
	sc.Notifications().RegisterSync(OnErrorNtfn(func(body json.RawMessage, _ time.Time) { errCh <- body }))
	sc.Notifications().RegisterSync(OnResultNtfn(func(body json.RawMessage, _ time.Time) { resCh <- body }))

	tr.inbound <- []byte(`{"error":{"code":42,"message":"no channel"}}`)
	select {
	case body := <-errCh:
		assert.Contains(t, string(body), "no channel")
	case <-time.After(time.Second):
		t.Fatal("no error notification")
	}
	// An error envelope is surfaced without any state change.
	assert.True(t, sc.Connected())

	tr.inbound <- []byte(`{"result":{"ok":true}}`)
	select {
	case body := <-resCh:
		assert.Contains(t, string(body), "ok")
	case <-time.After(time.Second):
		t.Fatal("no result notification")
	}
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind inboundKind
		wantErr  bool
	}{
		{"session created", `{"type":"session_created","sessionId":"s1"}`, inboundSessionCreated, false},
		{"session created without id", `{"type":"session_created"}`, 0, true},
		{"payment", `{"type":"payment","amount":7}`, inboundPayment, false},
		{"error envelope", `{"error":{"message":"boom"}}`, inboundError, false},
		{"result envelope", `{"result":"0xdeadbeef"}`, inboundResult, false},
		{"unknown tag", `{"type":"subscribe"}`, 0, true},
		{"empty object", `{}`, 0, true},
		{"malformed", `{`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeInbound([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, msg.kind)
		})
	}
}

func TestSchnorrSigner(t *testing.T) {
	signer, err := NewSchnorrSigner()
	require.NoError(t, err)

	msg := []byte(`{"type":"payment","amount":10}`)
	sig, err := signer.Sign(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	// The signature verifies against the blake256 digest and the session
	// pubkey, and breaks when the message is mutated.
	pubBytes, err := hex.DecodeString(signer.PubKeyHex())
	require.NoError(t, err)
	pub, err := schnorr.ParsePubKey(pubBytes)
	require.NoError(t, err)
	parsed, err := schnorr.ParseSignature(sig)
	require.NoError(t, err)

	digest := blake256.Sum256(msg)
	assert.True(t, parsed.Verify(digest[:], pub))

	mutated := blake256.Sum256(append([]byte(nil), append(msg, 'x')...))
	assert.False(t, parsed.Verify(mutated[:], pub))
}

func TestSchnorrSignerFromHex(t *testing.T) {
	signer, err := NewSchnorrSigner()
	require.NoError(t, err)
	_ = signer

	_, err = NewSchnorrSignerFromHex("zz")
	assert.Error(t, err)
	_, err = NewSchnorrSignerFromHex("00ff")
	assert.Error(t, err)
}
