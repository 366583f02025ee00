package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"

	"neurogallery/internal/models"
	"neurogallery/internal/utils"
)

// FeedManager fans newly added photos out to every open gallery page.
type FeedManager struct {
	mu    sync.RWMutex
	conns map[string]*feedConn
}

type feedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewFeedManager() *FeedManager {
	return &FeedManager{conns: make(map[string]*feedConn)}
}

func (m *FeedManager) Join(connID string, c *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connID] = &feedConn{conn: c}
}

func (m *FeedManager) Leave(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

func (m *FeedManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Send writes to one connection.
func (m *FeedManager) Send(connID string, message interface{}) error {
	m.mu.RLock()
	fc, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return fc.send(message)
}

// Broadcast writes message to every connection. A failed write is logged;
// the read loop of that connection notices the disconnect and leaves.
func (m *FeedManager) Broadcast(message interface{}) {
	m.mu.RLock()
	targets := make([]*feedConn, 0, len(m.conns))
	for _, fc := range m.conns {
		targets = append(targets, fc)
	}
	m.mu.RUnlock()

	for _, fc := range targets {
		if err := fc.send(message); err != nil {
			utils.LogError(err, "Broadcast")
		}
	}
}

// Publish implements services.Publisher.
func (m *FeedManager) Publish(photo models.Photo) {
	m.Broadcast(PhotoEvent{Event: "photo", Photo: NewPhotoView(photo)})
}

func (fc *feedConn) send(message interface{}) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return utils.SendJSON(fc.conn, message)
}

type PhotoEvent struct {
	Event string    `json:"event"`
	Photo PhotoView `json:"photo"`
}
