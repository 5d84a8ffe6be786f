package service

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"rulebook_backend/internal/model"
	"rulebook_backend/internal/workflow"
	"rulebook_backend/pkg/logger"
	"rulebook_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	shardCount     = 16
	roleLookupWait = 2 * time.Second

	proposalEventChannel = "rulebook:proposal_events"
	proposalEventType    = "PROPOSAL_UPDATED"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ProposalEvent is pushed to subscribers after a proposal change commits.
type ProposalEvent struct {
	ProposalID string               `json:"proposalId"`
	AuthorID   uint                 `json:"authorId"`
	Status     model.ProposalStatus `json:"status"`
	Transition workflow.Transition  `json:"transition"`
	ActorID    uint                 `json:"actorId"`
	At         time.Time            `json:"at"`
}

func (e ProposalEvent) visibleTo(actor workflow.Actor) bool {
	return workflow.CanView(&model.Proposal{AuthorID: e.AuthorID, Status: e.Status}, actor)
}

type Subscriber struct {
	hub   *ProposalHub
	conn  *websocket.Conn
	send  chan []byte
	id    uint64
	actor workflow.Actor
}

// readPump only handles pongs and close frames; clients send no messages.
func (c *Subscriber) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.actor.UserID))
			}
			return
		}
	}
}

func (c *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type shard struct {
	subscribers map[uint64]*Subscriber
	mu          sync.RWMutex
}

// ProposalHub fans proposal events out to websocket subscribers. Each
// subscriber only receives events for proposals it may view, judged by its
// role at delivery time. With Redis the events travel through pub/sub so
// every instance reaches its own clients.
type ProposalHub struct {
	shards     [shardCount]*shard
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
	stopOnce   sync.Once
	nextID     atomic.Uint64
	upgrader   websocket.Upgrader
	Redis      *redis.Client
	Users      RoleLookup
}

func NewProposalHub(rdb *redis.Client, users RoleLookup, allowedOrigins []string) *ProposalHub {
	h := &ProposalHub{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
		Redis:      rdb,
		Users:      users,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{subscribers: make(map[uint64]*Subscriber)}
	}
	return h
}

func (h *ProposalHub) getShard(id uint64) *shard {
	return h.shards[id%shardCount]
}

// Run registers subscribers until Stop is called.
func (h *ProposalHub) Run() {
	if h.Redis != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pubsub := h.Redis.Subscribe(ctx, proposalEventChannel)
		defer pubsub.Close()
		go func() {
			for msg := range pubsub.Channel() {
				var event ProposalEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Log.Error("PubSub unmarshal error", zap.Error(err))
					continue
				}
				h.deliver(event)
			}
		}()
	}

	for {
		select {
		case sub := <-h.register:
			s := h.getShard(sub.id)
			s.mu.Lock()
			s.subscribers[sub.id] = sub
			s.mu.Unlock()
			monitoring.ProposalSubscribers.Inc()

		case sub := <-h.unregister:
			s := h.getShard(sub.id)
			s.mu.Lock()
			if _, ok := s.subscribers[sub.id]; ok {
				delete(s.subscribers, sub.id)
				close(sub.send)
				monitoring.ProposalSubscribers.Dec()
			}
			s.mu.Unlock()

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop closes every subscriber connection.
func (h *ProposalHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *ProposalHub) closeAll() {
	closed := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.Lock()
		for id, sub := range s.subscribers {
			close(sub.send)
			delete(s.subscribers, id)
			closed++
		}
		s.mu.Unlock()
	}
	monitoring.ProposalSubscribers.Set(0)
	logger.Log.Info("ProposalHub stopped", zap.Int("closedConnections", closed))
}

func (h *ProposalHub) leave(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Notify publishes a committed change of p.
func (h *ProposalHub) Notify(ctx context.Context, p *model.Proposal, t workflow.Transition, actor workflow.Actor) {
	event := ProposalEvent{
		ProposalID: p.ID,
		AuthorID:   p.AuthorID,
		Status:     p.Status,
		Transition: t,
		ActorID:    actor.UserID,
		At:         time.Now(),
	}
	if h.Redis == nil {
		h.deliver(event)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("marshal proposal event", zap.Error(err))
		return
	}
	if err := h.Redis.Publish(ctx, proposalEventChannel, payload).Err(); err != nil {
		// deliver locally when Redis is unavailable
		logger.Log.Warn("publish proposal event failed", zap.Error(err))
		h.deliver(event)
	}
}

func (h *ProposalHub) deliver(event ProposalEvent) {
	// marshalled once for all subscribers
	payload, err := json.Marshal(WSMessage{Type: proposalEventType, Data: event})
	if err != nil {
		return
	}

	actors := h.currentActors()
	sent := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for _, sub := range s.subscribers {
			if !event.visibleTo(actorOf(sub, actors)) {
				continue
			}
			select {
			case sub.send <- payload:
				sent++
			default:
			}
		}
		s.mu.RUnlock()
	}
	monitoring.ProposalEventsPushed.Add(float64(sent))
}

// currentActors re-reads the roles of connected users so a demotion or
// removal applies to the next event. It returns nil when the hub has no
// user store; users that cannot be resolved map to an anonymous actor.
func (h *ProposalHub) currentActors() map[uint]workflow.Actor {
	if h.Users == nil {
		return nil
	}

	seen := make(map[uint]struct{})
	var ids []uint
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for _, sub := range s.subscribers {
			id := sub.actor.UserID
			if id == 0 {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}

	actors := make(map[uint]workflow.Actor, len(ids))
	if len(ids) == 0 {
		return actors
	}
	ctx, cancel := context.WithTimeout(context.Background(), roleLookupWait)
	defer cancel()
	users, err := h.Users.FindByIDs(ctx, ids)
	if err != nil {
		logger.Log.Warn("resolve subscriber roles failed", zap.Error(err))
		return actors
	}
	for _, u := range users {
		actors[u.ID] = workflow.Actor{UserID: u.ID, Role: u.Role}
	}
	return actors
}

func actorOf(sub *Subscriber, actors map[uint]workflow.Actor) workflow.Actor {
	if actors == nil || sub.actor.UserID == 0 {
		return sub.actor
	}
	// unresolved users, including ones that connected after the lookup, see the public view
	return actors[sub.actor.UserID]
}

// Subscribers reports how many connections this instance holds.
func (h *ProposalHub) Subscribers() int {
	total := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		total += len(s.subscribers)
		s.mu.RUnlock()
	}
	return total
}

// Serve upgrades the request and subscribes actor to proposal events.
func (h *ProposalHub) Serve(w http.ResponseWriter, r *http.Request, actor workflow.Actor) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Debug("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", actor.UserID))
		return
	}
	sub := &Subscriber{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		id:    h.nextID.Add(1),
		actor: actor,
	}

	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *model.Proposal, workflow.Transition, workflow.Actor) {}
