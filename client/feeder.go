package client

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/feed"
	"parallax/internal/geometry"
	"parallax/internal/observation"
)

// Feeder streams signed observation reports to a node's QUIC feed.
// It holds one session with a single uni stream, so reports arrive in
// submission order. Safe for concurrent use.
type Feeder struct {
	observerID string
	privKey    ed25519.PrivateKey

	mu     sync.Mutex
	conn   *quic.Conn
	stream *quic.SendStream
}

// NewFeeder connects to a node's feed endpoint and announces the
// observer. A non-nil position registers the observer's vantage point
// on the node.
func NewFeeder(ctx context.Context, feedAddr, observerID string, key ed25519.PrivateKey, position *r3.Vec) (*Feeder, error) {
	conn, err := feed.Dial(ctx, feedAddr)
	if err != nil {
		return nil, fmt.Errorf("dial feed:\n%w", err)
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("open feed stream:\n%w", err)
	}

	hello := feed.Hello{
		ObserverID: observerID,
		PubKey:     hex.EncodeToString(key.Public().(ed25519.PublicKey)),
	}
	if position != nil {
		arr := geometry.ToArray(*position)
		hello.Position = &arr
	}

	if err := writeFrameJSON(stream, hello); err != nil {
		conn.CloseWithError(0, "hello failed")
		return nil, fmt.Errorf("send hello:\n%w", err)
	}

	return &Feeder{
		observerID: observerID,
		privKey:    key,
		conn:       conn,
		stream:     stream,
	}, nil
}

// Report signs and streams one observation. A missing observer ID is
// filled from the session's; a zero timestamp is stamped with the
// current time. Both happen before signing, since the signature covers
// the exact field values sent on the wire.
func (f *Feeder) Report(obs observation.Observation) error {
	if obs.ObserverID == "" {
		obs.ObserverID = f.observerID
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}

	digest := feed.Digest(obs)
	sig := ed25519.Sign(f.privKey, digest[:])

	report := feed.Report{
		Observation: observation.ToWire(obs),
		Sig:         hex.EncodeToString(sig),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := writeFrameJSON(f.stream, report); err != nil {
		return fmt.Errorf("send report:\n%w", err)
	}

	return nil
}

// Close tears down the feed session.
func (f *Feeder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stream.Close()

	return f.conn.CloseWithError(0, "feeder closed")
}

// writeFrameJSON marshals a frame payload and writes it as one frame.
func writeFrameJSON(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frame:\n%w", err)
	}

	return feed.WriteFrame(w, data)
}
