package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenTestRig/internal/auth"
	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
	"go.uber.org/zap"
)

// MachineStatusProvider returns the snapshot sent to newly connected clients.
type MachineStatusProvider interface {
	CurrentMachineStatus(ctx context.Context) (any, error)
}

// CommandDispatcher executes commands received from clients.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (string, error)
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger

	authService *auth.AuthService

	machineStatusProvider MachineStatusProvider
	commandDispatcher     CommandDispatcher
}

// NewHub creates a new Hub instance. authService may be nil, in which case
// clients do not authenticate.
func NewHub(logger *zap.Logger, authService *auth.AuthService) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast:   make(chan Message, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		logger:      logger,
		authService: authService,
	}
}

func (h *Hub) SetMachineStatusProvider(provider MachineStatusProvider) {
	h.machineStatusProvider = provider
}

func (h *Hub) SetCommandDispatcher(dispatcher CommandDispatcher) {
	h.commandDispatcher = dispatcher
}

func (h *Hub) authRequired() bool {
	return h.authService != nil && h.authService.Enabled()
}

// Run starts the hub's main event loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// PublishEvent republishes a facade event to every client.
func (h *Hub) PublishEvent(event dispatch.Event) {
	h.Broadcast(NewMachineEventMessage(event))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
