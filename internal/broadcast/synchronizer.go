package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
	"github.com/gestionsostenible/console-core/internal/infrastructure/mqtt"
	"github.com/gestionsostenible/console-core/internal/securestore"
	"github.com/gestionsostenible/console-core/internal/theme"
)

// Tracker receives theme sync telemetry. Implemented by analytics.Client.
type Tracker interface {
	ThemeUpdate(organizationID, source string, reset bool)
}

// Deps are the synchronizer's collaborators. Broker, Hub and Tracker may
// be nil; the corresponding channel is simply not wired.
type Deps struct {
	Themes *theme.Engine
	Store  *securestore.Store
	Broker *mqtt.Client
	Hub    *Hub
	Logger *logging.Logger

	// Organization supplies the current organization id for topic
	// scoping. Required.
	Organization func() string

	Tracker Tracker
}

// Synchronizer runs the broadcast protocol for one engine instance.
type Synchronizer struct {
	deps      Deps
	runtimeID string
	version   atomic.Uint64
	runCtx    context.Context

	mu       sync.Mutex
	lastSeen map[string]uint64
}

// New creates the synchronizer with a fresh runtime instance id.
func New(deps Deps) *Synchronizer {
	return &Synchronizer{
		deps:      deps,
		runtimeID: uuid.NewString(),
		lastSeen:  make(map[string]uint64),
	}
}

// RuntimeID returns this instance's source id.
func (s *Synchronizer) RuntimeID() string {
	return s.runtimeID
}

// Start wires all three channels: installs the theme publisher, watches
// the persisted theme key, subscribes to the broker topics and installs
// the peer receiver. Runs until ctx is cancelled.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runCtx = ctx

	s.deps.Themes.SetPublisher(s.publishLocal)

	go s.watchStore(ctx)

	if s.deps.Hub != nil {
		s.deps.Hub.SetReceiver(s.handlePeerFrame)
	}

	if s.deps.Broker != nil {
		topics := mqtt.Topics{}
		topic := topics.AllThemeEvents(s.deps.Organization())
		if err := s.deps.Broker.Subscribe(topic, 1, s.handleBrokerMessage); err != nil {
			return err
		}
	}
	return nil
}

// publishLocal is the theme engine's publisher hook: an independent local
// mutation fans out to broker and peers.
func (s *Synchronizer) publishLocal(snapshot *theme.Snapshot, reset bool) {
	org := s.deps.Organization()
	msg := Message{
		Flag:           MessageFlag,
		Type:           TypeThemeUpdate,
		Source:         s.runtimeID,
		Version:        s.version.Add(1),
		OrganizationID: org,
		Theme:          snapshot,
	}
	if reset {
		msg.Type = TypeThemeReset
		msg.Theme = nil
	}

	data, err := encodeMessage(msg)
	if err != nil {
		s.deps.Logger.Error("theme sync publish failed", "error", err)
		return
	}

	if s.deps.Broker != nil {
		topics := mqtt.Topics{}
		topic := topics.ThemeUpdate(org)
		if reset {
			topic = topics.ThemeReset(org)
		}
		if err := s.deps.Broker.Publish(topic, data, 1, false); err != nil {
			s.deps.Logger.Warn("theme sync broker publish failed", "topic", topic, "error", err)
		}
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Broadcast(data, nil)
	}

	if s.deps.Tracker != nil {
		s.deps.Tracker.ThemeUpdate(org, "local", reset)
	}
}

// handleBrokerMessage applies broker traffic and relays it down to peers.
// Broker receipts are never re-published to the broker.
func (s *Synchronizer) handleBrokerMessage(topic string, payload []byte) error {
	msg, err := decodeMessage(payload)
	if err != nil {
		s.deps.Logger.Debug("broker message ignored", "topic", topic, "error", err)
		return nil
	}
	if !s.accept(msg) {
		return nil
	}

	s.apply(msg)

	if s.deps.Hub != nil {
		s.deps.Hub.Broadcast(payload, nil)
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.ThemeUpdate(msg.OrganizationID, "broker", msg.Type == TypeThemeReset)
	}
	return nil
}

// handlePeerFrame applies a peer frame and relays it to the other peers,
// never back to the sender and never up to the broker.
func (s *Synchronizer) handlePeerFrame(peer *Peer, data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		s.deps.Logger.Debug("peer frame ignored", "error", err)
		return
	}
	if !s.accept(msg) {
		return
	}

	s.apply(msg)

	s.deps.Hub.Broadcast(data, peer)

	if s.deps.Tracker != nil {
		s.deps.Tracker.ThemeUpdate(msg.OrganizationID, "peer", msg.Type == TypeThemeReset)
	}
}

// watchStore applies theme changes that arrive through the persisted key:
// another same-process context wrote the store directly.
func (s *Synchronizer) watchStore(ctx context.Context) {
	events, cancel := s.deps.Store.Watch(theme.StorageKey)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.applyStoreEvent(ctx, ev)
		}
	}
}

func (s *Synchronizer) applyStoreEvent(ctx context.Context, ev securestore.ChangeEvent) {
	if ev.Deleted {
		s.deps.Themes.Update(ctx, nil, theme.ExternalOptions())
		return
	}
	snapshot, err := theme.Decode([]byte(ev.Value))
	if err != nil {
		s.deps.Logger.Warn("persisted theme change unreadable", "error", err)
		return
	}
	// The engine's own persistence also lands here; the equality
	// short-circuit keeps it from looping.
	s.deps.Themes.Update(ctx, snapshot, theme.ExternalOptions())
}

// accept enforces loop prevention: drop own-source messages and anything
// not newer than the last version seen from that source.
func (s *Synchronizer) accept(msg *Message) bool {
	if msg.Source == "" || msg.Source == s.runtimeID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSeen[msg.Source]; ok && msg.Version <= last {
		return false
	}
	s.lastSeen[msg.Source] = msg.Version
	return true
}

func (s *Synchronizer) apply(msg *Message) {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.Type == TypeThemeReset {
		s.deps.Themes.Update(ctx, nil, theme.ExternalOptions())
		return
	}
	s.deps.Themes.Update(ctx, msg.Theme, theme.ExternalOptions())
}
