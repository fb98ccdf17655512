package server

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lab1702/planetfall/config"
	"github.com/lab1702/planetfall/internal/logging"
	"github.com/lab1702/planetfall/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// isValidOrigin checks if the origin is allowed to connect
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header - could be a non-browser client
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Same origin
	if r.Host == originURL.Host {
		return true
	}

	// Local development
	host := originURL.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// parseRoomID reads the room query parameter. Missing or unusable values
// select the default room.
func parseRoomID(raw string) RoomID {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || n == 0 {
		return DefaultRoomID
	}
	return RoomID(n)
}

// Client is one websocket connection. Outbound frames go through a bounded
// channel drained by writePump; inbound frames are rate limited and handed
// to the manager by readPump.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	server  *Server
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, s.cfg.SendBuffer),
		closed:  make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.InboundRate), s.cfg.InboundBurst),
		server:  s,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send queues frame for writing. It never blocks.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// readPump handles incoming messages from the client
func (c *Client) readPump() {
	ctx := context.Background()
	log := c.server.log.With(logging.String("conn", c.id))
	defer func() {
		if err := c.server.manager.Disconnect(ctx, c); err != nil {
			log.Debug(ctx, "disconnect not delivered", logging.Err(err))
		}
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.server.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn(ctx, "websocket read failed", logging.Err(err))
			}
			return
		}
		if typ != websocket.BinaryMessage {
			c.server.metrics.DecodeError()
			continue
		}
		if !c.limiter.Allow() {
			c.server.metrics.RateLimitedFrame()
			continue
		}
		if err := c.server.manager.Deliver(ctx, c, frame); err != nil {
			return
		}
	}
}

// writePump sends queued frames and keepalive pings to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.Close()
				return
			}

		case <-c.closed:
			// Flush what the room queued before closing, RoomEnded included.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Server exposes the room manager over HTTP and websockets.
type Server struct {
	cfg      config.Config
	manager  *Manager
	match    *Matchmaker
	upgrader websocket.Upgrader
	log      logging.Logger
	metrics  *observability.SessionCollector
}

// NewServer creates a server for cfg. Call Run to start the room manager.
func NewServer(cfg config.Config, log logging.Logger, metrics *observability.SessionCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		cfg: cfg,
		manager: NewManager(ManagerOptions{
			Sim:          cfg.Sim,
			EmptyRoomTTL: cfg.EmptyRoomTTL,
			Logger:       log,
			Metrics:      metrics,
		}),
		match: NewMatchmaker(cfg.PublicWSURL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isValidOrigin,
		},
		log:     log,
		metrics: metrics,
	}
}

// Run drives the room manager until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.manager.Run(ctx)
}

// HandleWebSocket upgrades the request and joins the connection to the room
// named by the room query parameter.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := parseRoomID(r.URL.Query().Get("room"))
	log := logging.FromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	client := newClient(s, conn)
	go client.writePump()

	ctx := context.WithoutCancel(r.Context())
	seat, err := s.manager.Connect(ctx, roomID, client)
	if err != nil {
		log.Warn(ctx, "join failed", logging.String("conn", client.id), logging.Err(err))
		client.Close()
		return
	}
	log.Info(ctx, "client connected",
		logging.String("conn", client.id),
		logging.Any("room", uint32(roomID)),
		logging.String("seat", seat.String()),
		logging.String("remote", r.RemoteAddr),
	)

	go client.readPump()
}
