package feed

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"parallax/internal/geometry"
	"parallax/internal/logger"
	"parallax/internal/metrics"
	"parallax/internal/observation"
	"parallax/internal/registry"
)

const (
	// helloTimeout bounds how long a fresh connection may take to open
	// its session stream and send the hello frame.
	helloTimeout = 10 * time.Second
)

// Application error codes reported on connection close.
const (
	codeOK       quic.ApplicationErrorCode = 0
	codeProtocol quic.ApplicationErrorCode = 1
	codeAuth     quic.ApplicationErrorCode = 2
)

// Config holds the configuration for a feed Listener.
type Config struct {
	PrivateKey ed25519.PrivateKey // PrivateKey signs the listener's TLS certificate
	ListenAddr string             // ListenAddr is the address to listen on (e.g., ":9000")
	Store      *observation.Store // Store receives verified observations
	Registry   *registry.Registry // Registry authenticates hellos and takes position updates
	Metrics    *metrics.Metrics   // Metrics is optional
}

// Listener accepts observer feed connections. Each connection binds to
// one observer via a hello frame, then streams signed observation
// reports through the same ingestion door as the HTTP API.
type Listener struct {
	privateKey ed25519.PrivateKey // privateKey backs the TLS certificate
	listenAddr string             // listenAddr is the address to listen on
	tlsConfig  *tls.Config        // tlsConfig is the TLS configuration
	quicConfig *quic.Config       // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener

	store    *observation.Store
	registry *registry.Registry
	metrics  *metrics.Metrics

	dedup *dedup // dedup drops replayed report digests

	conns   map[*quic.Conn]struct{} // conns tracks live connections
	connsMu sync.Mutex              // connsMu protects conns

	accepted   atomic.Uint64 // accepted counts reports that reached the store
	rejected   atomic.Uint64 // rejected counts malformed or unverifiable reports
	duplicates atomic.Uint64 // duplicates counts reports dropped by dedup

	ctx    context.Context    // ctx is the listener's context
	cancel context.CancelFunc // cancel cancels the listener's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// session is the observer identity a connection was bound to at hello.
type session struct {
	observerID string
	key        ed25519.PublicKey
	remote     string
}

// NewListener creates a feed listener. It does not accept connections
// until Start is called.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("observation store is required")
	}

	if cfg.Registry == nil {
		return nil, fmt.Errorf("observer registry is required")
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		privateKey: cfg.PrivateKey,
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		store:      cfg.Store,
		registry:   cfg.Registry,
		metrics:    cfg.Metrics,
		dedup:      newDedup(),
		conns:      make(map[*quic.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start starts the listener and begins accepting connections.
func (l *Listener) Start() error {
	listener, err := quic.ListenAddr(l.listenAddr, l.tlsConfig, l.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	l.listener = listener

	l.wg.Add(1)
	go l.acceptLoop()

	logger.Info("observer feed listening", "addr", listener.Addr())

	return nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (l *Listener) Addr() string {
	if l.listener == nil {
		return ""
	}

	return l.listener.Addr().String()
}

// Connections returns the number of live feed connections.
func (l *Listener) Connections() int {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()

	return len(l.conns)
}

// Counts returns the number of accepted, rejected and duplicate reports
// since the listener started.
func (l *Listener) Counts() (accepted, rejected, duplicates uint64) {
	return l.accepted.Load(), l.rejected.Load(), l.duplicates.Load()
}

// Close stops the listener and closes all connections.
func (l *Listener) Close() error {
	l.cancel()

	if l.listener != nil {
		l.listener.Close()
	}

	l.connsMu.Lock()
	for conn := range l.conns {
		conn.CloseWithError(codeOK, "shutting down")
	}
	l.connsMu.Unlock()

	l.dedup.close()
	l.wg.Wait()

	return nil
}

// Dial connects to a feed listener at the given address. The listener's
// certificate is self-signed, so chain verification is skipped; trust
// comes from report signatures, not the transport.
func Dial(ctx context.Context, addr string) (*quic.Conn, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return conn, nil
}

// acceptLoop accepts incoming connections.
func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			return // Listener closed
		}

		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

// handleConn runs one feed session: hello handshake, then reports until
// the peer disconnects.
func (l *Listener) handleConn(conn *quic.Conn) {
	defer l.wg.Done()

	l.trackConn(conn)
	defer l.untrackConn(conn)

	ctx, cancel := context.WithTimeout(l.ctx, helloTimeout)
	stream, err := conn.AcceptUniStream(ctx)
	cancel()

	if err != nil {
		conn.CloseWithError(codeProtocol, "no session stream")
		return
	}

	sess, err := l.handshake(conn, stream)
	if err != nil {
		logger.Warn("feed handshake rejected", "remote", conn.RemoteAddr(), "error", err)
		conn.CloseWithError(codeAuth, "handshake rejected")
		return
	}

	logger.Info("observer connected", "observer", sess.observerID, "remote", sess.remote)

	for {
		data, err := ReadFrame(stream)
		if err != nil {
			break // Session stream closed
		}

		l.handleReport(sess, data)
	}

	conn.CloseWithError(codeOK, "closed")
	logger.Info("observer disconnected", "observer", sess.observerID)
}

// handshake reads and verifies the hello frame. The hello key must
// match the registry entry when the game layer registered one.
func (l *Listener) handshake(conn *quic.Conn, stream *quic.ReceiveStream) (session, error) {
	stream.SetReadDeadline(time.Now().Add(helloTimeout))
	defer stream.SetReadDeadline(time.Time{})

	data, err := ReadFrame(stream)
	if err != nil {
		return session{}, fmt.Errorf("read hello: %w", err)
	}

	var hello Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		return session{}, fmt.Errorf("decode hello: %w", err)
	}

	if hello.ObserverID == "" {
		return session{}, fmt.Errorf("hello missing observer id")
	}

	key, err := hex.DecodeString(hello.PubKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return session{}, fmt.Errorf("hello carries no usable public key")
	}

	pubKey := ed25519.PublicKey(key)

	entry, known := l.registry.Lookup(hello.ObserverID)
	if known && entry.PubKey != nil && !entry.PubKey.Equal(pubKey) {
		return session{}, fmt.Errorf("public key does not match registration for %s", hello.ObserverID)
	}

	// Persist the hello position when given. Without one, only refresh
	// the key of an already known observer; never invent a position.
	if hello.Position != nil {
		l.registry.Upsert(registry.Entry{
			ObserverID: hello.ObserverID,
			Position:   geometry.FromArray(*hello.Position),
			PubKey:     pubKey,
		})
	} else if known {
		l.registry.Upsert(registry.Entry{
			ObserverID: hello.ObserverID,
			Position:   entry.Position,
			PubKey:     pubKey,
		})
	}

	return session{
		observerID: hello.ObserverID,
		key:        pubKey,
		remote:     conn.RemoteAddr().String(),
	}, nil
}

// handleReport verifies one report frame and submits it to the store.
func (l *Listener) handleReport(sess session, data []byte) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		l.recordRejection(sess.observerID, "malformed report", err)
		return
	}

	obs := report.Observation.Observation()

	if obs.ObserverID != sess.observerID {
		l.recordRejection(sess.observerID, "report for foreign observer", nil)
		return
	}

	sig, err := hex.DecodeString(report.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		l.recordRejection(sess.observerID, "malformed signature", err)
		return
	}

	digest := Digest(obs)

	if !ed25519.Verify(sess.key, digest[:], sig) {
		l.recordRejection(sess.observerID, "signature verification failed", nil)
		return
	}

	if !l.dedup.check(digest) {
		l.duplicates.Add(1)
		logger.Debug("duplicate report dropped", "observer", sess.observerID, "target", obs.TargetID)
		return
	}

	if err := l.store.Submit(obs); err != nil {
		l.recordRejection(sess.observerID, "rejected by store", err)
		return
	}

	l.accepted.Add(1)
	if l.metrics != nil {
		l.metrics.Submission(true)
	}
	logger.Debug("report accepted", "observer", sess.observerID, "target", obs.TargetID)
}

// recordRejection counts and logs a dropped report.
func (l *Listener) recordRejection(observerID, reason string, err error) {
	l.rejected.Add(1)
	if l.metrics != nil {
		l.metrics.Submission(false)
	}

	if err != nil {
		logger.Warn("report rejected", "observer", observerID, "reason", reason, "error", err)
		return
	}

	logger.Warn("report rejected", "observer", observerID, "reason", reason)
}

// trackConn registers a live connection.
func (l *Listener) trackConn(conn *quic.Conn) {
	l.connsMu.Lock()
	l.conns[conn] = struct{}{}
	l.connsMu.Unlock()

	if l.metrics != nil {
		l.metrics.FeedConnections.Inc()
	}
}

// untrackConn forgets a connection.
func (l *Listener) untrackConn(conn *quic.Conn) {
	l.connsMu.Lock()
	delete(l.conns, conn)
	l.connsMu.Unlock()

	if l.metrics != nil {
		l.metrics.FeedConnections.Dec()
	}
}
