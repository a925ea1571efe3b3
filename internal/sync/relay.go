package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/SplitSync/split-sync-backend/errors"
	"github.com/SplitSync/split-sync-backend/internal/identity"
	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
)

const (
	relayBackend       = "relay"
	relayPushTimeout   = 5 * time.Second
	relayGroupMetaFmt  = "group:%s:meta"
	relayChannelPrefix = "group:"
	relayChannelSuffix = ":events"
)

func relayChannel(groupID string) string {
	return relayChannelPrefix + groupID + relayChannelSuffix
}

func relayGroupMetaKey(groupID string) string {
	return fmt.Sprintf(relayGroupMetaFmt, groupID)
}

type relaySubscription struct {
	pubsub    *redis.PubSub
	cancelCtx context.CancelFunc
}

// RelayTransport synchronizes through a central Redis relay. Every device
// publishes to and subscribes on a per-group channel, and the relay assigns
// each pushed event its authoritative timestamp from the server clock. The
// group id doubles as the shared join code.
type RelayTransport struct {
	redisClient   *redis.Client
	identity      *identity.Manager
	log           *zap.SugaredLogger
	metrics       *transportMetrics
	state         *stateTracker
	mu            gosync.RWMutex
	subscriptions map[string]relaySubscription
}

var _ Transport = (*RelayTransport)(nil)

func NewRelayTransport(redisClient *redis.Client, ids *identity.Manager) *RelayTransport {
	return &RelayTransport{
		redisClient:   redisClient,
		identity:      ids,
		log:           logger.GetLogger(),
		metrics:       getTransportMetrics(),
		state:         newStateTracker(),
		subscriptions: make(map[string]relaySubscription),
	}
}

// Initialize verifies the relay is reachable and ensures a local identity
// exists before any event carries it.
func (r *RelayTransport) Initialize(ctx context.Context) error {
	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		r.state.set(types.SyncStatus{State: types.SyncErrored, Message: "relay unreachable"})
		return apperrors.TransportFailed("initialize", err)
	}
	if _, err := r.identity.UserID(ctx); err != nil {
		return err
	}
	r.state.set(types.SyncStatus{State: types.SyncUpToDate, LastSyncAt: time.Now().UnixMilli()})
	return nil
}

func (r *RelayTransport) CurrentUserID(ctx context.Context) (string, error) {
	return r.identity.UserID(ctx)
}

// CreateGroup registers the group in the relay's registry so other devices
// can resolve the join code.
func (r *RelayTransport) CreateGroup(ctx context.Context, groupID, name string) error {
	userID, err := r.identity.UserID(ctx)
	if err != nil {
		return err
	}
	now, err := r.serverNow(ctx)
	if err != nil {
		return apperrors.TransportFailed("create group", err)
	}
	err = r.redisClient.HSet(ctx, relayGroupMetaKey(groupID),
		"name", name,
		"createdBy", userID,
		"createdAt", strconv.FormatInt(now, 10),
	).Err()
	if err != nil {
		r.metrics.pushFailures.WithLabelValues(relayBackend).Inc()
		return apperrors.TransportFailed("create group", err)
	}
	r.log.Infow("Registered group with relay", "groupID", groupID, "name", name)
	return nil
}

// JoinGroup resolves the join code against the registry. An unknown code is
// a GroupNotFound, not a transport failure.
func (r *RelayTransport) JoinGroup(ctx context.Context, code string) (types.Group, error) {
	meta, err := r.redisClient.HGetAll(ctx, relayGroupMetaKey(code)).Result()
	if err != nil {
		return types.Group{}, apperrors.TransportFailed("join group", err)
	}
	if len(meta) == 0 {
		return types.Group{}, apperrors.NewGroupNotFound(code)
	}
	createdAt, _ := strconv.ParseInt(meta["createdAt"], 10, 64)
	group := types.Group{
		ID:        code,
		Name:      meta["name"],
		CreatedBy: meta["createdBy"],
		CreatedAt: createdAt,
	}
	r.log.Infow("Joined group via relay", "groupID", code, "name", group.Name)
	return group, nil
}

// PushEvent stamps the event with the relay's server time and publishes it
// on the group channel. Causal timestamps are not used on this backend; the
// relay's clock is the single ordering authority.
func (r *RelayTransport) PushEvent(ctx context.Context, groupID string, event types.Event) error {
	startTime := time.Now()
	defer func() {
		r.metrics.pushLatency.WithLabelValues(relayBackend).Observe(time.Since(startTime).Seconds())
	}()

	if err := event.Validate(); err != nil {
		r.metrics.pushFailures.WithLabelValues(relayBackend).Inc()
		return err
	}

	serverNow, err := r.serverNow(ctx)
	if err != nil {
		r.metrics.pushFailures.WithLabelValues(relayBackend).Inc()
		r.state.set(types.SyncStatus{State: types.SyncErrored, Message: "push failed"})
		return apperrors.TransportFailed("push event", err)
	}
	event.OccurredAt = serverNow
	event.CausalTimestamp = nil

	data, err := json.Marshal(event)
	if err != nil {
		r.metrics.pushFailures.WithLabelValues(relayBackend).Inc()
		return apperrors.TransportFailed("push event", err)
	}

	r.state.set(types.SyncStatus{State: types.SyncSyncing, Progress: 0, Total: 1})

	publishCtx, cancel := context.WithTimeout(ctx, relayPushTimeout)
	defer cancel()
	if err := r.redisClient.Publish(publishCtx, relayChannel(groupID), data).Err(); err != nil {
		r.metrics.pushFailures.WithLabelValues(relayBackend).Inc()
		r.state.set(types.SyncStatus{State: types.SyncErrored, Message: "push failed"})
		return apperrors.TransportFailed("push event", err)
	}

	r.metrics.eventsPushed.WithLabelValues(relayBackend).Inc()
	r.state.set(types.SyncStatus{State: types.SyncUpToDate, LastSyncAt: time.Now().UnixMilli()})
	r.log.Debugw("Published event",
		"channel", relayChannel(groupID),
		"eventType", event.Type,
		"eventID", event.ID,
		"payloadSize", len(data),
	)
	return nil
}

// StartListening subscribes to the group channel and feeds inbound events to
// the callback. A second call for the same group replaces the existing
// listener.
func (r *RelayTransport) StartListening(groupID string, cb EventCallback) {
	r.mu.Lock()
	if existing, ok := r.subscriptions[groupID]; ok {
		existing.cancelCtx()
		delete(r.subscriptions, groupID)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := r.redisClient.Subscribe(subCtx, relayChannel(groupID))
	r.subscriptions[groupID] = relaySubscription{pubsub: pubsub, cancelCtx: cancel}
	r.mu.Unlock()

	r.metrics.activeGroups.WithLabelValues(relayBackend).Inc()
	go r.processSubscription(subCtx, pubsub, groupID, cb)
}

func (r *RelayTransport) processSubscription(ctx context.Context, pubsub *redis.PubSub, groupID string, cb EventCallback) {
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.log.Warnw("Error closing relay pubsub", "error", err, "groupID", groupID)
		}
		r.metrics.activeGroups.WithLabelValues(relayBackend).Dec()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				r.log.Infow("Relay channel closed", "groupID", groupID)
				return
			}
			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Warnw("Dropping undecodable relay message",
					"groupID", groupID,
					"error", err,
				)
				continue
			}
			r.metrics.eventsReceived.WithLabelValues(relayBackend).Inc()
			cb(event)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RelayTransport) StopListening(groupID string) {
	r.mu.Lock()
	sub, ok := r.subscriptions[groupID]
	if ok {
		delete(r.subscriptions, groupID)
	}
	r.mu.Unlock()
	if ok {
		sub.cancelCtx()
	}
}

func (r *RelayTransport) State() types.SyncStatus {
	return r.state.snapshot()
}

func (r *RelayTransport) WatchState() <-chan types.SyncStatus {
	return r.state.watch()
}

// Disconnect cancels every listener. The Redis client itself is owned by the
// caller and stays open.
func (r *RelayTransport) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	subs := r.subscriptions
	r.subscriptions = make(map[string]relaySubscription)
	r.mu.Unlock()
	for _, sub := range subs {
		sub.cancelCtx()
	}
	r.state.set(types.SyncStatus{State: types.SyncDisconnected})
	return nil
}

// serverNow reads the relay's clock in epoch milliseconds so that every
// device stamps events from the same authority.
func (r *RelayTransport) serverNow(ctx context.Context) (int64, error) {
	t, err := r.redisClient.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
