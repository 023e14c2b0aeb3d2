package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aman-churiwal/velero-api/internal/metrics"
)

var ErrConnectionNotFound = errors.New("connection not found")

const DefaultWriteTimeout = 5 * time.Second

// Transport is the write side of a WebSocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Connection struct {
	ID     string
	UserID string

	transport    Transport
	writeTimeout time.Duration

	// serializes writes; gorilla connections allow one concurrent writer
	writeMu  sync.Mutex
	failures int
}

// write gives up after the write timeout. gorilla treats a timed out write as
// fatal, so later writes to the same connection fail at once.
func (c *Connection) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return errors.Wrap(err, "error setting write deadline")
	}
	return c.transport.WriteMessage(websocket.TextMessage, msg)
}

type Options struct {
	// EvictAfterFailures disconnects a connection after that many
	// consecutive failed broadcast writes. Zero keeps failing connections.
	EvictAfterFailures int

	// WriteTimeout bounds every write. Default: DefaultWriteTimeout.
	WriteTimeout time.Duration
	Metrics      *metrics.ServerMetrics
	Logger       logrus.FieldLogger
}

// ConnectionManager tracks live WebSocket connections and fans messages out to them.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections  map[string]*Connection
	evictAfter   int
	writeTimeout time.Duration
	metrics      *metrics.ServerMetrics
	logger       logrus.FieldLogger
}

func NewConnectionManager(opts Options) *ConnectionManager {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		evictAfter:   opts.EvictAfterFailures,
		writeTimeout: opts.WriteTimeout,
		metrics:      opts.Metrics,
		logger:       opts.Logger.WithField("component", "hub"),
	}
}

type readyMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// Connect sends the readiness message and registers the connection. A failed
// readiness write leaves nothing registered.
func (m *ConnectionManager) Connect(transport Transport, userID string) (*Connection, error) {
	conn := &Connection{
		ID:           uuid.NewString(),
		UserID:       userID,
		transport:    transport,
		writeTimeout: m.writeTimeout,
	}

	ready, err := json.Marshal(readyMessage{Type: "ready", ConnectionID: conn.ID})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := conn.write(ready); err != nil {
		return nil, errors.Wrap(err, "error sending ready message")
	}

	m.mu.Lock()
	m.connections[conn.ID] = conn
	total := len(m.connections)
	m.mu.Unlock()

	m.metrics.SetWebSocketConnections(total)
	m.logger.WithFields(logrus.Fields{"connection": conn.ID, "user": userID, "total": total}).Info("WebSocket client connected")
	return conn, nil
}

// Disconnect removes and closes the connection. Unknown ids are ignored.
func (m *ConnectionManager) Disconnect(id string) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	total := len(m.connections)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.transport.Close(); err != nil {
		m.logger.WithError(err).WithField("connection", id).Debug("Error closing WebSocket")
	}
	m.metrics.SetWebSocketConnections(total)
	m.logger.WithFields(logrus.Fields{"connection": id, "total": total}).Info("WebSocket client disconnected")
}

func (m *ConnectionManager) SendPersonal(id string, msg []byte) error {
	m.mu.RLock()
	conn, ok := m.connections[id]
	m.mu.RUnlock()

	if !ok {
		return errors.Wrapf(ErrConnectionNotFound, "connection %s", id)
	}
	return errors.Wrapf(conn.write(msg), "error writing to connection %s", id)
}

// SendToUser delivers msg to every connection owned by userID and returns
// how many writes succeeded.
func (m *ConnectionManager) SendToUser(userID string, msg []byte) int {
	return m.deliver(m.snapshot(func(c *Connection) bool { return c.UserID == userID }), msg)
}

// Broadcast writes msg to every connection registered when it is called.
// Failed writes are logged and skipped; it returns the number delivered.
func (m *ConnectionManager) Broadcast(msg []byte) int {
	return m.deliver(m.snapshot(nil), msg)
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) snapshot(filter func(*Connection) bool) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		if filter == nil || filter(c) {
			conns = append(conns, c)
		}
	}
	return conns
}

// deliver writes to every connection concurrently, so a slow peer delays the
// call by at most the write timeout.
func (m *ConnectionManager) deliver(conns []*Connection, msg []byte) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		evict     []string
	)

	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			err := c.write(msg)

			c.writeMu.Lock()
			if err == nil {
				c.failures = 0
			} else {
				c.failures++
			}
			failures := c.failures
			c.writeMu.Unlock()

			if err == nil {
				mu.Lock()
				delivered++
				mu.Unlock()
				return
			}

			m.metrics.RegisterBroadcastFailure()
			m.logger.WithError(err).WithFields(logrus.Fields{
				"connection": c.ID,
				"failures":   failures,
			}).Warn("Error writing to WebSocket")

			if m.evictAfter > 0 && failures >= m.evictAfter {
				mu.Lock()
				evict = append(evict, c.ID)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, id := range evict {
		m.Disconnect(id)
	}
	return delivered
}
