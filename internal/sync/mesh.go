package sync

import (
	"context"
	"errors"
	"net"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/clock"
	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

const (
	meshBackend      = "mesh"
	meshDialTimeout  = 10 * time.Second
	meshWriteTimeout = 10 * time.Second
)

// MeshConfig configures the peer-to-peer backend. PeerAddrs lists the
// ws:// endpoints of known devices; ListenAddr, when set, makes this device
// accept inbound peers as well.
type MeshConfig struct {
	ListenAddr string
	PeerAddrs  []string
}

type meshFrameKind string

const (
	frameHello meshFrameKind = "HELLO"
	frameEvent meshFrameKind = "EVENT"
)

// meshFrame is the wire envelope between peers. A connection opens with one
// HELLO in each direction; every frame after that carries an event.
type meshFrame struct {
	Kind  meshFrameKind `json:"kind"`
	Hello *meshHello    `json:"hello,omitempty"`
	Event *types.Event  `json:"event,omitempty"`
}

type meshHello struct {
	NodeID      string `json:"nodeId"`
	DisplayName string `json:"displayName"`
}

type meshPeer struct {
	nodeID string
	name   string
	conn   *websocket.Conn
	mu     gosync.Mutex
}

func (p *meshPeer) send(ctx context.Context, frame meshFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, meshWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, p.conn, frame)
}

// MeshTransport synchronizes directly between devices over WebSocket
// connections, with no server in between. Events carry hybrid logical
// timestamps: the clock advances on every push and merges on every receive,
// so causal order survives arbitrary delivery order across the mesh.
type MeshTransport struct {
	cfg      MeshConfig
	identity *identity.Manager
	clock    *clock.HybridLogicalClock
	log      *zap.SugaredLogger
	metrics  *transportMetrics
	state    *stateTracker

	mu        gosync.RWMutex
	peers     map[string]*meshPeer
	callbacks map[string]EventCallback

	server     *http.Server
	listenAddr string
	baseCtx    context.Context
	cancel     context.CancelFunc
	initOnce   gosync.Once
}

var _ Transport = (*MeshTransport)(nil)

func NewMeshTransport(cfg MeshConfig, ids *identity.Manager, hlc *clock.HybridLogicalClock) *MeshTransport {
	return &MeshTransport{
		cfg:       cfg,
		identity:  ids,
		clock:     hlc,
		log:       logger.GetLogger().Named("mesh"),
		metrics:   getTransportMetrics(),
		state:     newStateTracker(),
		peers:     make(map[string]*meshPeer),
		callbacks: make(map[string]EventCallback),
	}
}

// Initialize ensures a local identity and, when a listen address is
// configured, starts accepting inbound peers.
func (m *MeshTransport) Initialize(ctx context.Context) error {
	if _, err := m.identity.UserID(ctx); err != nil {
		return err
	}

	var initErr error
	m.initOnce.Do(func() {
		m.baseCtx, m.cancel = context.WithCancel(context.Background())
		if m.cfg.ListenAddr == "" {
			return
		}
		ln, err := net.Listen("tcp", m.cfg.ListenAddr)
		if err != nil {
			initErr = apperrors.TransportFailed("initialize", err)
			return
		}
		m.listenAddr = ln.Addr().String()
		mux := http.NewServeMux()
		mux.HandleFunc("/mesh", m.handleInbound)
		m.server = &http.Server{Handler: mux}
		go func() {
			if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.log.Errorw("Mesh listener stopped", "error", err)
			}
		}()
		m.log.Infow("Mesh listener started", "addr", m.cfg.ListenAddr)
	})
	if initErr != nil {
		m.state.set(types.SyncStatus{State: types.SyncErrored, Message: "listener failed"})
		return initErr
	}
	return nil
}

func (m *MeshTransport) CurrentUserID(ctx context.Context) (string, error) {
	return m.identity.UserID(ctx)
}

// Addr returns the bound listener address, empty when not listening. Useful
// when the configured address picked an ephemeral port.
func (m *MeshTransport) Addr() string {
	return m.listenAddr
}

// CreateGroup has no registry to write on a serverless backend. The device
// advertises itself and waits for peers; the group itself propagates as an
// ordinary event once a peer connects.
func (m *MeshTransport) CreateGroup(ctx context.Context, groupID, name string) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	m.state.set(types.SyncStatus{State: types.SyncAdvertising})
	m.log.Infow("Advertising group to nearby peers", "groupID", groupID, "name", name)
	return nil
}

// JoinGroup discovers peers by dialing the configured endpoints. It succeeds
// when at least one peer answers the handshake; group membership then
// arrives through replayed events.
func (m *MeshTransport) JoinGroup(ctx context.Context, code string) (types.Group, error) {
	if err := m.Initialize(ctx); err != nil {
		return types.Group{}, err
	}
	m.state.set(types.SyncStatus{State: types.SyncDiscovering})

	connected := 0
	for _, addr := range m.cfg.PeerAddrs {
		if err := m.dialPeer(ctx, addr); err != nil {
			m.log.Warnw("Peer unreachable", "addr", addr, "error", err)
			continue
		}
		connected++
	}
	if connected == 0 {
		m.state.set(types.SyncStatus{State: types.SyncErrored, Message: "no peers found"})
		return types.Group{}, apperrors.TransportFailed("join group", errors.New("no reachable peers"))
	}
	m.state.set(types.SyncStatus{State: types.SyncUpToDate, LastSyncAt: time.Now().UnixMilli()})
	m.log.Infow("Joined mesh", "groupID", code, "peers", connected)
	return types.Group{ID: code}, nil
}

// PushEvent stamps the event from the local hybrid logical clock and fans it
// out to every connected peer. With no peers connected there is nobody to
// receive the event, so the push fails rather than silently dropping it.
func (m *MeshTransport) PushEvent(ctx context.Context, groupID string, event types.Event) error {
	startTime := time.Now()
	defer func() {
		m.metrics.pushLatency.WithLabelValues(meshBackend).Observe(time.Since(startTime).Seconds())
	}()

	if err := event.Validate(); err != nil {
		m.metrics.pushFailures.WithLabelValues(meshBackend).Inc()
		return err
	}

	ts := m.clock.Generate()
	event.CausalTimestamp = &ts
	event.OccurredAt = ts.WallClock

	m.mu.RLock()
	peers := make([]*meshPeer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()

	if len(peers) == 0 {
		m.metrics.pushFailures.WithLabelValues(meshBackend).Inc()
		m.state.set(types.SyncStatus{State: types.SyncErrored, Message: "no connected peers"})
		return apperrors.TransportFailed("push event", errors.New("no connected peers"))
	}

	m.state.set(types.SyncStatus{State: types.SyncSyncing, Progress: 0, Total: len(peers)})

	delivered := 0
	frame := meshFrame{Kind: frameEvent, Event: &event}
	for _, p := range peers {
		if err := p.send(ctx, frame); err != nil {
			m.log.Warnw("Failed to send event to peer",
				"peer", p.nodeID,
				"eventID", event.ID,
				"error", err,
			)
			m.removePeer(p.nodeID)
			continue
		}
		delivered++
		m.state.set(types.SyncStatus{State: types.SyncSyncing, Progress: delivered, Total: len(peers)})
	}
	if delivered == 0 {
		m.metrics.pushFailures.WithLabelValues(meshBackend).Inc()
		m.state.set(types.SyncStatus{State: types.SyncErrored, Message: "all peers unreachable"})
		return apperrors.TransportFailed("push event", errors.New("all peers unreachable"))
	}

	m.metrics.eventsPushed.WithLabelValues(meshBackend).Inc()
	m.state.set(types.SyncStatus{State: types.SyncUpToDate, LastSyncAt: time.Now().UnixMilli()})
	return nil
}

func (m *MeshTransport) StartListening(groupID string, cb EventCallback) {
	m.mu.Lock()
	_, replacing := m.callbacks[groupID]
	m.callbacks[groupID] = cb
	m.mu.Unlock()
	if !replacing {
		m.metrics.activeGroups.WithLabelValues(meshBackend).Inc()
	}
}

func (m *MeshTransport) StopListening(groupID string) {
	m.mu.Lock()
	_, ok := m.callbacks[groupID]
	delete(m.callbacks, groupID)
	m.mu.Unlock()
	if ok {
		m.metrics.activeGroups.WithLabelValues(meshBackend).Dec()
	}
}

func (m *MeshTransport) State() types.SyncStatus {
	return m.state.snapshot()
}

func (m *MeshTransport) WatchState() <-chan types.SyncStatus {
	return m.state.watch()
}

// Disconnect closes every peer connection and stops the listener.
func (m *MeshTransport) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*meshPeer)
	m.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close(websocket.StatusNormalClosure, "disconnecting")
		m.metrics.connectedPeers.Dec()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.log.Warnw("Mesh listener shutdown error", "error", err)
		}
	}
	m.state.set(types.SyncStatus{State: types.SyncDisconnected})
	return nil
}

// handleInbound accepts a peer connection: read its HELLO, answer with our
// own, then pump events.
func (m *MeshTransport) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		m.log.Warnw("Failed to accept peer connection", "error", err)
		return
	}

	ctx := m.baseCtx
	var theirs meshFrame
	if err := wsjson.Read(ctx, conn, &theirs); err != nil || theirs.Kind != frameHello || theirs.Hello == nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}
	m.state.set(types.SyncStatus{State: types.SyncAuthenticating, PeerName: theirs.Hello.DisplayName})

	hello, err := m.localHello(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}
	if err := wsjson.Write(ctx, conn, meshFrame{Kind: frameHello, Hello: &hello}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}

	peer := m.addPeer(theirs.Hello, conn)
	m.state.set(types.SyncStatus{State: types.SyncUpToDate, LastSyncAt: time.Now().UnixMilli()})
	m.readLoop(ctx, peer)
}

// dialPeer connects out to a configured endpoint: send HELLO, await the
// peer's HELLO, then pump events in the background.
func (m *MeshTransport) dialPeer(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, meshDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, addr+"/mesh", nil)
	if err != nil {
		return err
	}

	hello, err := m.localHello(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return err
	}
	if err := wsjson.Write(dialCtx, conn, meshFrame{Kind: frameHello, Hello: &hello}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return err
	}
	var theirs meshFrame
	if err := wsjson.Read(dialCtx, conn, &theirs); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return err
	}
	if theirs.Kind != frameHello || theirs.Hello == nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return errors.New("peer did not identify itself")
	}
	m.state.set(types.SyncStatus{State: types.SyncAuthenticating, PeerName: theirs.Hello.DisplayName})

	peer := m.addPeer(theirs.Hello, conn)
	go m.readLoop(m.baseCtx, peer)
	return nil
}

func (m *MeshTransport) localHello(ctx context.Context) (meshHello, error) {
	userID, err := m.identity.UserID(ctx)
	if err != nil {
		return meshHello{}, err
	}
	name, err := m.identity.DisplayName(ctx)
	if err != nil {
		return meshHello{}, err
	}
	return meshHello{NodeID: userID, DisplayName: name}, nil
}

func (m *MeshTransport) addPeer(hello *meshHello, conn *websocket.Conn) *meshPeer {
	peer := &meshPeer{nodeID: hello.NodeID, name: hello.DisplayName, conn: conn}
	m.mu.Lock()
	if existing, ok := m.peers[peer.nodeID]; ok {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "replaced by new connection")
	} else {
		m.metrics.connectedPeers.Inc()
	}
	m.peers[peer.nodeID] = peer
	m.mu.Unlock()
	m.log.Infow("Peer connected", "peer", peer.nodeID, "name", peer.name)
	return peer
}

func (m *MeshTransport) removePeer(nodeID string) {
	m.mu.Lock()
	peer, ok := m.peers[nodeID]
	if ok {
		delete(m.peers, nodeID)
	}
	m.mu.Unlock()
	if ok {
		_ = peer.conn.Close(websocket.StatusNormalClosure, "removed")
		m.metrics.connectedPeers.Dec()
		m.log.Infow("Peer disconnected", "peer", nodeID)
	}
}

// readLoop pumps frames from one peer until the connection drops. Each
// inbound event merges its causal timestamp into the local clock before it
// reaches the processor.
func (m *MeshTransport) readLoop(ctx context.Context, peer *meshPeer) {
	defer m.removePeer(peer.nodeID)
	for {
		var frame meshFrame
		if err := wsjson.Read(ctx, peer.conn, &frame); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				m.log.Debugw("Peer read ended", "peer", peer.nodeID, "error", err)
			}
			return
		}
		if frame.Kind != frameEvent || frame.Event == nil {
			continue
		}
		event := *frame.Event
		if event.CausalTimestamp != nil {
			m.clock.Receive(*event.CausalTimestamp)
		}
		m.metrics.eventsReceived.WithLabelValues(meshBackend).Inc()

		m.mu.RLock()
		cb := m.callbacks[event.GroupID]
		m.mu.RUnlock()
		if cb != nil {
			cb(event)
		} else {
			m.log.Debugw("No listener for group, dropping inbound event",
				"groupID", event.GroupID,
				"eventID", event.ID,
			)
		}
	}
}
