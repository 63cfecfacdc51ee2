package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/platform/requestctx"
	"github.com/dndtoolbox/toolbox/internal/platform/timeouts"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
)

var (
	errPeerClosed       = errors.New("peer is closed")
	errPeerBackpressure = errors.New("peer outbound buffer is full")
)

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, err := h.authenticate(r)
	if err != nil {
		log.Printf("mapsession: websocket unauthorized host=%q remote=%s err=%v", r.Host, r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	server := websocket.Server{
		Handshake: h.checkOrigin,
		Handler:   h.handleWSConn,
	}
	server.ServeHTTP(w, r.WithContext(ctx))
}

// checkOrigin admits browser origins from the allow-list. An empty list
// admits every origin.
func (h *handler) checkOrigin(config *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(config, r)
	if err != nil {
		return err
	}
	if origin != nil {
		config.Origin = origin
	}
	if len(h.origins) == 0 {
		return nil
	}
	if origin == nil {
		return errors.New("origin header is required")
	}
	key := strings.ToLower(origin.Scheme + "://" + origin.Host)
	if _, ok := h.origins[key]; !ok {
		log.Printf("mapsession: websocket origin rejected origin=%q remote=%s", key, r.RemoteAddr)
		return fmt.Errorf("origin %s is not allowed", key)
	}
	return nil
}

func (h *handler) handleWSConn(conn *websocket.Conn) {
	request := conn.Request()
	ctx := request.Context()
	conn.MaxPayloadBytes = maxFramePayloadBytes

	client := engine.Conn{
		ID:        uuid.NewString(),
		UserID:    requestctx.UserIDFromContext(ctx),
		Localizer: i18n.For(i18n.Match(request.Header.Get("Accept-Language"))),
	}
	ctx = requestctx.WithConnectionID(ctx, client.ID)
	peer := newWSPeer(client.ID, conn)
	go peer.run()

	if err := h.deps.Engine.Connect(ctx, client, peer); err != nil {
		log.Printf("mapsession: connect conn=%q failed: %v", client.ID, err)
		peer.shutdown()
		return
	}
	reason := "client closed"
	defer func() {
		h.deps.Engine.Disconnect(ctx, client.ID, reason)
		peer.shutdown()
		_ = conn.Close()
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				peer.sendError(client, "", apperrors.New(apperrors.CodeInvalidArgument, "frame too large"))
				continue
			}
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = peer.Send(protocol.NewFrame(protocol.TypeError, protocol.Error{
				Code:      "RESOURCE_EXHAUSTED",
				Message:   "rate limit exceeded",
				Retryable: true,
			}))
			reason = "rate limit exceeded"
			return
		}

		frame, err := decodeFrame(data)
		if err != nil {
			decodeErrors++
			peer.sendError(client, "", err)
			if decodeErrors >= maxDecodeErrorsPerConn {
				reason = "too many invalid frames"
				return
			}
			continue
		}
		decodeErrors = 0

		h.deps.Engine.Dispatch(ctx, client, frame)
	}
}

func decodeFrame(data []byte) (protocol.Frame, error) {
	var frame protocol.Frame
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&frame); err != nil {
		return protocol.Frame{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid frame payload", err)
	}
	if strings.TrimSpace(frame.Type) == "" {
		return protocol.Frame{}, apperrors.New(apperrors.CodeInvalidArgument, "frame type is required")
	}
	return frame, nil
}

// wsPeer queues outbound frames for one socket and writes them from a single
// goroutine, so engine broadcasts never block on the network.
type wsPeer struct {
	id   string
	conn *websocket.Conn
	out  chan protocol.Frame

	stopping  chan struct{}
	finished  chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once
}

func newWSPeer(id string, conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		id:       id,
		conn:     conn,
		out:      make(chan protocol.Frame, peerOutboundBuffer),
		stopping: make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (p *wsPeer) ID() string { return p.id }

// Send enqueues frame. A full queue means the client stopped reading; the
// connection is dropped rather than stalling the room.
func (p *wsPeer) Send(frame protocol.Frame) error {
	select {
	case <-p.stopping:
		return errPeerClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	default:
		log.Printf("mapsession: dropping slow conn=%q", p.id)
		p.abort()
		return errPeerBackpressure
	}
}

func (p *wsPeer) sendError(client engine.Conn, requestID string, err error) {
	_ = p.Send(engine.ErrorFrame(client.Localizer, err).WithRequestID(requestID))
}

func (p *wsPeer) run() {
	defer close(p.finished)
	encoder := json.NewEncoder(p.conn)
	for {
		select {
		case frame := <-p.out:
			if err := p.write(encoder, frame); err != nil {
				p.abort()
				return
			}
		case <-p.stopping:
			for {
				select {
				case frame := <-p.out:
					if err := p.write(encoder, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *wsPeer) write(encoder *json.Encoder, frame protocol.Frame) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.PeerWrite))
	return encoder.Encode(frame)
}

// abort closes the socket, which also ends the read loop.
func (p *wsPeer) abort() {
	p.abortOnce.Do(func() {
		_ = p.conn.Close()
	})
}

// shutdown flushes queued frames and waits for the writer to exit.
func (p *wsPeer) shutdown() {
	p.stopOnce.Do(func() {
		close(p.stopping)
	})
	select {
	case <-p.finished:
	case <-time.After(timeouts.PeerWrite):
		p.abort()
	}
}
