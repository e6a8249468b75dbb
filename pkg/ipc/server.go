// pkg/ipc/server.go

package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/protocol"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// frameReadTimeout is how long the server waits for a connected client
// to send its request frame. Operation execution itself has no server
// deadline; timeout policy belongs to the caller.
const frameReadTimeout = 30 * time.Second

// frameWriteTimeout bounds writing the response frame.
const frameWriteTimeout = 10 * time.Second

// defaultMaxFrameBytes bounds one request frame. Payloads are buffers
// that fit in memory by design, so anything larger is a broken or
// hostile peer.
const defaultMaxFrameBytes = 16 << 20

// ServerOptions configures a Server.
type ServerOptions struct {
	// SocketPath is where the Unix socket is created. Required.
	SocketPath string
	// Service answers the operations. Required.
	Service protocol.CompleteService
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
	// MaxFrameBytes overrides the request frame size limit.
	MaxFrameBytes int64
}

// Server serves the contract on a Unix socket, one request-response
// cycle per connection, one goroutine per connection. A panicking
// handler becomes an internal-error response; nothing crosses the
// boundary as a crash.
type Server struct {
	path     string
	service  protocol.CompleteService
	log      *zap.Logger
	maxFrame int64
	conns    sync.WaitGroup
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.SocketPath == "" {
		return nil, cerr.New("ipc: socket path is required")
	}
	if opts.Service == nil {
		return nil, cerr.New("ipc: service is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Server{
		path:     opts.SocketPath,
		service:  opts.Service,
		log:      opts.Logger,
		maxFrame: opts.MaxFrameBytes,
	}, nil
}

// Serve accepts connections until ctx is cancelled, then drains active
// handlers. Any stale socket file at the path is replaced; the socket
// is owner-only, this is a privilege boundary.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return cerr.Wrapf(err, "remove stale socket %s", s.path)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return cerr.Wrapf(err, "listen on %s", s.path)
	}
	defer func() {
		listener.Close()
		os.Remove(s.path)
	}()

	if err := os.Chmod(s.path, 0o600); err != nil {
		return cerr.Wrapf(err, "restrict socket %s", s.path)
	}

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info("Agent socket listening", zap.String("path", s.path))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || cerr.Is(err, net.ErrClosed) {
				break
			}
			s.log.Error("Accept failed", zap.Error(err))
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.conns.Wait()
	s.log.Info("Agent socket closed", zap.String("path", s.path))
	return nil
}

// handleConn processes one request-response cycle. CBOR frames are
// self-delimiting, so no length prefix is needed; the LimitReader stops
// a peer from exhausting memory.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(frameReadTimeout))

	var req Request
	if err := NewDecoder(io.LimitReader(conn, s.maxFrame)).Decode(&req); err != nil {
		if cerr.Is(err, io.EOF) {
			// Connected but sent nothing.
			return
		}
		s.writeResponse(conn, "", Fail(secerr.NewInvalidData(fmt.Sprintf("undecodable request frame: %v", err))))
		return
	}

	ctx, span := telemetry.Start(ctx, "ipc.serve",
		attribute.String("op", req.Op),
		attribute.String("request_id", req.ID),
	)
	defer span.End()

	resp := s.dispatch(ctx, &req)

	// The frame may have carried key material.
	securebuf.Zero(req.Key)
	securebuf.Zero(req.Data)

	span.SetAttributes(attribute.Bool("success", resp.Success))
	s.writeResponse(conn, req.ID, resp)
}

// dispatch runs the operation with panic containment: an uncaught fault
// on this side must not crash the peer's call, it becomes a typed
// internal error.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Operation handler panicked",
				zap.String("op", req.Op),
				zap.String("request_id", req.ID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			resp = Fail(secerr.NewInternalError(fmt.Sprintf("operation %s panicked: %v", req.Op, r), nil))
		}
	}()

	if req.Protocol != "" {
		if _, ok := protocol.TierFromIdentifier(req.Protocol); !ok {
			return Fail(secerr.NewInvalidInput(fmt.Sprintf("unknown protocol identifier %q", req.Protocol)))
		}
	}

	return s.handle(ctx, req)
}

func (s *Server) handle(ctx context.Context, req *Request) Response {
	cfg := configFromWire(req.Config)

	switch req.Op {
	case protocol.OpPing:
		alive, err := s.service.Ping(ctx)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(alive)

	case protocol.OpStatus:
		status, err := s.service.Status(ctx)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(status)

	case protocol.OpDetailedStatus:
		status, err := s.service.DetailedStatus(ctx)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(status)

	case protocol.OpImportKey:
		material := securebuf.New(req.Key)
		defer material.Wipe()
		if err := s.service.ImportKey(ctx, req.KeyID, protocol.KeyKind(req.Kind), material, req.Metadata); err != nil {
			return Fail(err)
		}
		return succeedValue(true)

	case protocol.OpExportKey:
		material, err := s.service.ExportKey(ctx, req.KeyID)
		if err != nil {
			return Fail(err)
		}
		raw := material.Bytes()
		material.Wipe()
		resp := succeedValue(raw)
		securebuf.Zero(raw)
		return resp

	case protocol.OpDeleteKey:
		if err := s.service.DeleteKey(ctx, req.KeyID); err != nil {
			return Fail(err)
		}
		return succeedValue(true)

	case protocol.OpGenerateKey:
		id, err := s.service.GenerateKey(ctx, req.KeyID, protocol.KeyKind(req.Kind), cfg, req.Metadata)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(id)

	case protocol.OpEncrypt:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.Encrypt(ctx, req.KeyID, data, cfg)
		})

	case protocol.OpDecrypt:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.Decrypt(ctx, req.KeyID, data, cfg)
		})

	case protocol.OpSign:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.Sign(ctx, req.KeyID, data, cfg)
		})

	case protocol.OpVerifySignature:
		data := securebuf.New(req.Data)
		defer data.Wipe()
		signature := securebuf.New(req.Signature)
		defer signature.Wipe()
		ok, err := s.service.VerifySignature(ctx, req.KeyID, data, signature, cfg)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(ok)

	case protocol.OpGenerateRandom:
		out, err := s.service.GenerateRandom(ctx, req.Length)
		if err != nil {
			return Fail(err)
		}
		return bufferResponse(out)

	case protocol.OpEncryptAsymmetric:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.EncryptAsymmetric(ctx, req.KeyID, data, cfg)
		})

	case protocol.OpDecryptAsymmetric:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.DecryptAsymmetric(ctx, req.KeyID, data, cfg)
		})

	case protocol.OpDeriveKey:
		id, err := s.service.DeriveKey(ctx, req.KeyID, req.Salt, req.Iterations, req.OutputLength, req.TargetKeyID)
		if err != nil {
			return Fail(err)
		}
		return succeedValue(id)

	case protocol.OpHash:
		return s.buffered(ctx, req, func(data *securebuf.Buffer) (*securebuf.Buffer, error) {
			return s.service.Hash(ctx, data, cfg)
		})

	default:
		return Fail(secerr.NewNotImplemented(req.Op))
	}
}

// buffered wraps the data-in, buffer-out operation shape.
func (s *Server) buffered(_ context.Context, req *Request, op func(*securebuf.Buffer) (*securebuf.Buffer, error)) Response {
	data := securebuf.New(req.Data)
	defer data.Wipe()
	out, err := op(data)
	if err != nil {
		return Fail(err)
	}
	return bufferResponse(out)
}

// bufferResponse encodes and wipes an output buffer.
func bufferResponse(out *securebuf.Buffer) Response {
	raw := out.Bytes()
	out.Wipe()
	resp := succeedValue(raw)
	securebuf.Zero(raw)
	return resp
}

// succeedValue encodes a result value into a success response. Encoding
// a response value cannot legitimately fail; if it does, the caller
// gets an internal error rather than a broken frame.
func succeedValue(v any) Response {
	data, err := Marshal(v)
	if err != nil {
		return Fail(secerr.NewInternalError("encode response payload", err))
	}
	return Succeed(data)
}

func configFromWire(rc *RawConfig) crypto.Config {
	if rc == nil {
		return crypto.Config{}
	}
	return crypto.Config{
		Algorithm:   rc.Algorithm,
		KeySizeBits: rc.KeySizeBits,
		Options:     rc.Options,
	}
}

// writeResponse sends the frame; a failed write means the caller
// abandoned the call, which it is allowed to do. The result is
// discarded, not escalated.
func (s *Server) writeResponse(conn net.Conn, requestID string, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err := NewEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("Response write failed, caller likely gone",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
