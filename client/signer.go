package client

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// Signer is the externally supplied signing capability. Latency is
// unbounded and under user control (signing may require out-of-band user
// interaction), so callers must never hold the client lock across Sign.
type Signer interface {
	Sign(ctx context.Context, message []byte) (signature []byte, err error)
}

// SignerFunc adapts a plain function to the Signer interface.
type SignerFunc func(ctx context.Context, message []byte) ([]byte, error)

func (f SignerFunc) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return f(ctx, message)
}

// SchnorrSigner signs settlement messages with a per-process session key:
// an EC-Schnorr-DCRv0 signature over the BLAKE-256 digest of the message.
type SchnorrSigner struct {
	priv *secp256k1.PrivateKey
}

// NewSchnorrSigner generates a fresh session keypair.
func NewSchnorrSigner() (*SchnorrSigner, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &SchnorrSigner{priv: priv}, nil
}

// NewSchnorrSignerFromHex restores a signer from a 32-byte hex private key.
func NewSchnorrSignerFromHex(privHex string) (*SchnorrSigner, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("bad session private key")
	}
	return &SchnorrSigner{priv: secp256k1.PrivKeyFromBytes(b)}, nil
}

// PubKeyHex returns the compressed session public key.
func (s *SchnorrSigner) PubKeyHex() string {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed())
}

func (s *SchnorrSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	digest := blake256.Sum256(message)
	sig, err := schnorr.Sign(s.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return sig.Serialize(), nil
}
