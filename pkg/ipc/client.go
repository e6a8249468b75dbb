// pkg/ipc/client.go

package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/protocol"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 5 * time.Second

	// The breaker trips after this many consecutive transport
	// failures and probes again after the cooldown. Error envelopes
	// from the peer are answers, not transport failures, and never
	// count against it.
	breakerTripAfter = 3
	breakerCooldown  = 5 * time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// SocketPath of the agent socket. Required.
	SocketPath string
	// Identifier is the protocol this side speaks. Defaults to the
	// complete tier.
	Identifier string
	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
}

// Client speaks the contract to an agent over its Unix socket. It
// implements the complete service surface; calls above the tier the
// peer negotiated fail without touching the wire.
type Client struct {
	path        string
	identifier  string
	dialTimeout time.Duration
	log         *zap.Logger
	breaker     *gobreaker.CircuitBreaker

	mu       sync.Mutex
	tier     protocol.Tier
	haveTier bool
}

var _ protocol.CompleteService = (*Client)(nil)

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.SocketPath == "" {
		return nil, cerr.New("ipc: socket path is required")
	}
	if opts.Identifier == "" {
		opts.Identifier = protocol.IdentifierComplete
	}
	if _, ok := protocol.TierFromIdentifier(opts.Identifier); !ok {
		return nil, cerr.Newf("ipc: unknown protocol identifier %q", opts.Identifier)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	log := opts.Logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mnemosyne-agent",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Agent transport breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		path:        opts.SocketPath,
		identifier:  opts.Identifier,
		dialTimeout: opts.DialTimeout,
		log:         log,
		breaker:     breaker,
	}, nil
}

// Negotiated returns the tier agreed with the peer, asking it once and
// caching the answer.
func (c *Client) Negotiated(ctx context.Context) (protocol.Tier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveTier {
		return c.tier, nil
	}

	status, err := c.status(ctx)
	if err != nil {
		return 0, err
	}
	peer, ok := status.Details["protocol"]
	if !ok {
		return 0, secerr.NewInvalidInput("peer did not advertise a protocol identifier")
	}
	tier, err := protocol.Negotiate(c.identifier, peer)
	if err != nil {
		return 0, secerr.NewInvalidInput(err.Error())
	}

	c.tier = tier
	c.haveTier = true
	c.log.Debug("Negotiated agent protocol",
		zap.String("local", c.identifier),
		zap.String("peer", peer),
		zap.String("tier", tier.String()),
	)
	return tier, nil
}

// require fails fast when the negotiated tier cannot answer the
// operation.
func (c *Client) require(ctx context.Context, min protocol.Tier) error {
	tier, err := c.Negotiated(ctx)
	if err != nil {
		return err
	}
	if tier < min {
		return secerr.NewInvalidInput(fmt.Sprintf("operation needs the %s tier, peer negotiated %s", min, tier))
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) (bool, error) {
	return c.callBool(ctx, &Request{Op: protocol.OpPing})
}

func (c *Client) Status(ctx context.Context) (protocol.ServiceStatus, error) {
	return c.status(ctx)
}

func (c *Client) DetailedStatus(ctx context.Context) (protocol.ServiceStatus, error) {
	if err := c.require(ctx, protocol.TierComplete); err != nil {
		return protocol.ServiceStatus{}, err
	}
	return c.callStatus(ctx, &Request{Op: protocol.OpDetailedStatus})
}

func (c *Client) ImportKey(ctx context.Context, id string, kind protocol.KeyKind, material *securebuf.Buffer, metadata map[string]string) error {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return err
	}
	if material == nil {
		return secerr.NewInvalidInput("key material is required")
	}
	raw := material.Bytes()
	defer securebuf.Zero(raw)
	return c.callVoid(ctx, &Request{
		Op:       protocol.OpImportKey,
		KeyID:    id,
		Kind:     string(kind),
		Key:      raw,
		Metadata: metadata,
	})
}

func (c *Client) ExportKey(ctx context.Context, id string) (*securebuf.Buffer, error) {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return nil, err
	}
	return c.callBytes(ctx, &Request{Op: protocol.OpExportKey, KeyID: id})
}

func (c *Client) DeleteKey(ctx context.Context, id string) error {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return err
	}
	return c.callVoid(ctx, &Request{Op: protocol.OpDeleteKey, KeyID: id})
}

func (c *Client) GenerateKey(ctx context.Context, id string, kind protocol.KeyKind, cfg crypto.Config, metadata map[string]string) (string, error) {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return "", err
	}
	return c.callString(ctx, &Request{
		Op:       protocol.OpGenerateKey,
		KeyID:    id,
		Kind:     string(kind),
		Metadata: metadata,
		Config:   configToWire(cfg),
	})
}

func (c *Client) Encrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return c.dataOp(ctx, protocol.TierStandard, protocol.OpEncrypt, keyID, data, cfg)
}

func (c *Client) Decrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return c.dataOp(ctx, protocol.TierStandard, protocol.OpDecrypt, keyID, data, cfg)
}

func (c *Client) Sign(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return c.dataOp(ctx, protocol.TierStandard, protocol.OpSign, keyID, data, cfg)
}

func (c *Client) VerifySignature(ctx context.Context, keyID string, data, signature *securebuf.Buffer, cfg crypto.Config) (bool, error) {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return false, err
	}
	if data == nil || signature == nil {
		return false, secerr.NewInvalidInput("data and signature are required")
	}
	rawData := data.Bytes()
	defer securebuf.Zero(rawData)
	rawSig := signature.Bytes()
	defer securebuf.Zero(rawSig)
	return c.callBool(ctx, &Request{
		Op:        protocol.OpVerifySignature,
		KeyID:     keyID,
		Data:      rawData,
		Signature: rawSig,
		Config:    configToWire(cfg),
	})
}

func (c *Client) GenerateRandom(ctx context.Context, length int) (*securebuf.Buffer, error) {
	if err := c.require(ctx, protocol.TierStandard); err != nil {
		return nil, err
	}
	return c.callBytes(ctx, &Request{Op: protocol.OpGenerateRandom, Length: length})
}

func (c *Client) EncryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return c.dataOp(ctx, protocol.TierComplete, protocol.OpEncryptAsymmetric, keyID, data, cfg)
}

func (c *Client) DecryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return c.dataOp(ctx, protocol.TierComplete, protocol.OpDecryptAsymmetric, keyID, data, cfg)
}

func (c *Client) DeriveKey(ctx context.Context, sourceID string, salt []byte, iterations, outputLength int, targetID string) (string, error) {
	if err := c.require(ctx, protocol.TierComplete); err != nil {
		return "", err
	}
	// Reject locally what the peer would reject, before the payload
	// crosses the boundary.
	if err := protocol.ValidateDerivation(sourceID, salt, iterations, outputLength); err != nil {
		return "", err
	}
	return c.callString(ctx, &Request{
		Op:           protocol.OpDeriveKey,
		KeyID:        sourceID,
		TargetKeyID:  targetID,
		Salt:         salt,
		Iterations:   iterations,
		OutputLength: outputLength,
	})
}

func (c *Client) Hash(ctx context.Context, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	if err := c.require(ctx, protocol.TierComplete); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, secerr.NewInvalidInput("data is required")
	}
	raw := data.Bytes()
	defer securebuf.Zero(raw)
	return c.callBytes(ctx, &Request{Op: protocol.OpHash, Data: raw, Config: configToWire(cfg)})
}

// dataOp is the keyed data-in, bytes-out call shape.
func (c *Client) dataOp(ctx context.Context, min protocol.Tier, op, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	if err := c.require(ctx, min); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, secerr.NewInvalidInput("data is required")
	}
	raw := data.Bytes()
	defer securebuf.Zero(raw)
	return c.callBytes(ctx, &Request{
		Op:     op,
		KeyID:  keyID,
		Data:   raw,
		Config: configToWire(cfg),
	})
}

// status issues the basic-tier status call directly; negotiation itself
// depends on it.
func (c *Client) status(ctx context.Context) (protocol.ServiceStatus, error) {
	return c.callStatus(ctx, &Request{Op: protocol.OpStatus})
}

func (c *Client) callVoid(ctx context.Context, req *Request) error {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	var ok bool
	if err := Unmarshal(resp.Data, &ok); err != nil {
		return secerr.WrapExternal(err, "agent response payload")
	}
	return nil
}

func (c *Client) callBool(ctx context.Context, req *Request) (bool, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return false, err
	}
	var v bool
	if err := Unmarshal(resp.Data, &v); err != nil {
		return false, secerr.WrapExternal(err, "agent response payload")
	}
	return v, nil
}

func (c *Client) callString(ctx context.Context, req *Request) (string, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return "", err
	}
	var v string
	if err := Unmarshal(resp.Data, &v); err != nil {
		return "", secerr.WrapExternal(err, "agent response payload")
	}
	return v, nil
}

func (c *Client) callBytes(ctx context.Context, req *Request) (*securebuf.Buffer, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := Unmarshal(resp.Data, &raw); err != nil {
		return nil, secerr.WrapExternal(err, "agent response payload")
	}
	buf := securebuf.New(raw)
	securebuf.Zero(raw)
	return buf, nil
}

func (c *Client) callStatus(ctx context.Context, req *Request) (protocol.ServiceStatus, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return protocol.ServiceStatus{}, err
	}
	var status protocol.ServiceStatus
	if err := Unmarshal(resp.Data, &status); err != nil {
		return protocol.ServiceStatus{}, secerr.WrapExternal(err, "agent response payload")
	}
	return status, nil
}

// roundTrip sends one request and returns the peer's successful
// response. Transport faults pass through the breaker and come back as
// internal errors; error envelopes come back as the typed error they
// carry.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	req.ID = uuid.NewString()
	req.Protocol = c.identifier

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchange(ctx, req)
	})
	if err != nil {
		if cerr.Is(err, context.Canceled) || cerr.Is(err, context.DeadlineExceeded) {
			return nil, cerr.Wrap(err, "agent call abandoned")
		}
		return nil, secerr.WrapExternal(err, "agent socket")
	}

	resp := out.(*Response)
	if !resp.Valid() {
		return nil, secerr.NewInternalError("peer returned a malformed response", nil)
	}
	if !resp.Success {
		return nil, secerr.FromEnvelope(resp.Error)
	}
	return resp, nil
}

// exchange performs the single dial-write-read cycle. A cancelled
// context closes the connection so the read cannot outlive the caller.
func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, cerr.Wrapf(err, "dial %s", c.path)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := NewEncoder(conn).Encode(req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cerr.Wrap(err, "write request frame")
	}

	var resp Response
	if err := NewDecoder(io.LimitReader(conn, defaultMaxFrameBytes)).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, cerr.Wrap(err, "read response frame")
	}
	return &resp, nil
}

func configToWire(cfg crypto.Config) *RawConfig {
	if cfg.Algorithm == "" && cfg.KeySizeBits == 0 && len(cfg.Options) == 0 {
		return nil
	}
	return &RawConfig{
		Algorithm:   cfg.Algorithm,
		KeySizeBits: cfg.KeySizeBits,
		Options:     cfg.Options,
	}
}
