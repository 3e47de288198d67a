package http

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"arc-database/internal/database/usecase"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"
	"arc-database/internal/shared/metrics"
	"arc-database/internal/shared/utils"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Frame is a command sent by a relay client.
type Frame struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// Reply answers the Frame with the same id.
type Reply struct {
	ID     string           `json:"id"`
	Result usecase.Response `json:"result"`
}

// SubscriptionReleaser closes the subscriptions of a disconnected client.
type SubscriptionReleaser interface {
	UnsubscribeOwner(owner string) int
}

// RelayHandler carries façade commands over websocket connections and pushes
// subscription events back on the same connection.
type RelayHandler struct {
	facade     *usecase.CommandFacade
	releaser   SubscriptionReleaser
	log        logger.Logger
	sendBuffer int

	mu    sync.RWMutex
	conns map[string]*relayConnection
}

// NewRelayHandler creates a relay. sendBuffer bounds each connection's
// outgoing queue.
func NewRelayHandler(facade *usecase.CommandFacade, releaser SubscriptionReleaser, sendBuffer int, log logger.Logger) *RelayHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &RelayHandler{
		facade:     facade,
		releaser:   releaser,
		log:        log.WithComponent("relay"),
		sendBuffer: sendBuffer,
		conns:      make(map[string]*relayConnection),
	}
}

// RegisterRoutes mounts the websocket endpoint at path.
func (h *RelayHandler) RegisterRoutes(router fiber.Router, path string) {
	router.Use(path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get(path, websocket.New(h.handleConnection))
}

// ConnectionCount returns the number of open relay connections.
func (h *RelayHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *RelayHandler) Close() {
	h.mu.RLock()
	conns := make([]*relayConnection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close()
	}
}

// relayConnection is one client. All writes go through out and are performed
// by the writer goroutine.
type relayConnection struct {
	id     string
	conn   *websocket.Conn
	out    chan interface{}
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *relayConnection) ID() string { return c.id }

// Push implements usecase.Pusher.
func (c *relayConnection) Push(msg usecase.ChangeMessage) error {
	return c.send(msg)
}

func (c *relayConnection) send(v interface{}) error {
	select {
	case c.out <- v:
		return nil
	case <-c.ctx.Done():
		return errors.ErrClosed
	}
}

func (h *RelayHandler) handleConnection(conn *websocket.Conn) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(utils.WithConnectionID(context.Background(), id))
	rc := &relayConnection{
		id:     id,
		conn:   conn,
		out:    make(chan interface{}, h.sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	log := h.log.WithContext(ctx)

	h.mu.Lock()
	h.conns[rc.id] = rc
	h.mu.Unlock()
	metrics.RelayConnectionOpened()
	log.Info("Relay connection established")

	writerDone := make(chan struct{})
	go h.writeLoop(rc, writerDone)

	var inflight sync.WaitGroup
	h.readLoop(rc, &inflight, log)

	cancel()
	inflight.Wait()
	released := h.releaser.UnsubscribeOwner(rc.id)
	<-writerDone

	h.mu.Lock()
	delete(h.conns, rc.id)
	h.mu.Unlock()
	metrics.RelayConnectionClosed()
	log.Info("Relay connection closed", zap.Int("releasedSubscriptions", released))
}

func (h *RelayHandler) readLoop(rc *relayConnection, inflight *sync.WaitGroup, log logger.Logger) {
	for {
		_, data, err := rc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Relay read failed", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reject(rc, "", errors.NewInvalidArgumentError("frame is not valid JSON"))
			continue
		}
		var req usecase.Request
		if len(frame.Args) > 0 {
			if err := json.Unmarshal(frame.Args, &req); err != nil {
				h.reject(rc, frame.ID, errors.NewInvalidArgumentError("malformed args: " + err.Error()))
				continue
			}
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			ctx := utils.WithRequestID(rc.ctx, frame.ID)
			resp := h.facade.Handle(ctx, frame.Command, req, rc)
			_ = rc.send(Reply{ID: frame.ID, Result: resp})
		}()
	}
}

func (h *RelayHandler) reject(rc *relayConnection, id string, err error) {
	_ = rc.send(Reply{ID: id, Result: usecase.Response{Error: usecase.Describe(err)}})
}

func (h *RelayHandler) writeLoop(rc *relayConnection, done chan<- struct{}) {
	defer close(done)
	defer rc.cancel()

	for {
		select {
		case <-rc.ctx.Done():
			return
		case msg := <-rc.out:
			_ = rc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := rc.conn.WriteJSON(msg); err != nil {
				h.log.Warn("Relay write failed", zap.String("connection_id", rc.id), zap.Error(err))
				_ = rc.conn.Close()
				return
			}
		}
	}
}
