package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"
	"visionrelay/internal/service/slot"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Client is the subset of *websocket.Conn the hub needs.
type Client interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Annotator renders a frame with its boxes drawn on it.
type Annotator func(frame *model.Frame, boxes []model.BoundingBox) ([]byte, error)

// Message is the JSON document pushed to viewers.
type Message struct {
	Type       string              `json:"type"` // frame or match
	Camera     string              `json:"camera"`
	Sequence   *model.SequenceID   `json:"sequence,omitempty"`
	Detections []model.BoundingBox `json:"detections,omitempty"`
	Image      string              `json:"image,omitempty"` // base64 JPEG
}

// HubService keeps viewer connections and pushes frames and matches to them.
type HubService struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mutex      sync.RWMutex
	annotate   Annotator
	logger     *logger.Logger
}

// NewHubService creates a hub. annotate may be nil, in which case matches
// are pushed without an image.
func NewHubService(annotate Annotator, log *logger.Logger) *HubService {
	if log == nil {
		log = logger.Nop()
	}
	return &HubService{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan Client),
		unregister: make(chan Client),
		annotate:   annotate,
		logger:     log.Named("hub"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *HubService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *HubService) Register(client Client) {
	h.register <- client
}

func (h *HubService) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast queues message for every viewer; it drops the message when the
// hub is backed up.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("Broadcast queue full - dropping message")
	}
}

// SendFrame pushes a raw camera JPEG to viewers.
func (h *HubService) SendFrame(camera string, jpeg []byte) {
	msg, err := json.Marshal(Message{
		Type:   "frame",
		Camera: camera,
		Image:  base64.StdEncoding.EncodeToString(jpeg),
	})
	if err != nil {
		h.logger.Error("Failed to encode frame message: %v", err)
		return
	}
	h.Broadcast(msg)
}

// HandleMatch pushes a matched result, annotated when possible.
func (h *HubService) HandleMatch(snap slot.Snapshot) error {
	if h.GetClientCount() == 0 {
		return nil
	}
	id := snap.Result.ImageID
	msg := Message{
		Type:       "match",
		Camera:     snap.Frame.Camera,
		Sequence:   &id,
		Detections: snap.Result.Boxes,
	}
	if h.annotate != nil {
		img, err := h.annotate(snap.Frame, snap.Result.Boxes)
		if err != nil {
			h.logger.Warning("Failed to annotate result %d: %v", id, err)
		} else {
			msg.Image = base64.StdEncoding.EncodeToString(img)
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
