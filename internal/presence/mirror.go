package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/valkey-io/valkey-go"

	"ringrelay/internal/constants"
)

// Mirror records per-instance presence in a store shared by every instance
type Mirror interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	OnlineUsers(ctx context.Context) ([]string, error)
	Close()
}

// ValkeyMirror keeps one set of online users per instance plus an index of
// instances. The cluster roster is the union of every instance set, so a user
// connected to two instances stays online until both report offline.
type ValkeyMirror struct {
	client      valkey.Client
	instanceKey string
	indexKey    string
	timeout     time.Duration
}

func NewValkeyMirror(addr, password, keyPrefix, instanceID string) (*ValkeyMirror, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is required for the presence mirror")
	}
	if keyPrefix == "" {
		keyPrefix = constants.DefaultPresenceKeyPrefix
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	timeout := time.Duration(constants.DefaultValkeyTimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	m := &ValkeyMirror{
		client:      client,
		instanceKey: keyPrefix + ":instance:" + instanceID,
		indexKey:    keyPrefix + ":instances",
		timeout:     timeout,
	}

	// A previous process with the same instance id may have died without cleanup.
	if err := client.Do(ctx, client.B().Del().Key(m.instanceKey).Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reset instance presence: %w", err)
	}
	return m, nil
}

func (m *ValkeyMirror) MarkOnline(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resps := m.client.DoMulti(ctx,
		m.client.B().Sadd().Key(m.instanceKey).Member(userID).Build(),
		m.client.B().Sadd().Key(m.indexKey).Member(m.instanceKey).Build(),
	)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to add to online users: %w", err)
		}
	}
	return nil
}

func (m *ValkeyMirror) MarkOffline(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := m.client.B().Srem().Key(m.instanceKey).Member(userID).Build()
	if err := m.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to remove from online users: %w", err)
	}
	return nil
}

// OnlineUsers returns the sorted cluster-wide roster
func (m *ValkeyMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	instances, err := m.client.Do(ctx, m.client.B().Smembers().Key(m.indexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence instances: %w", err)
	}
	if len(instances) == 0 {
		return []string{}, nil
	}

	users, err := m.client.Do(ctx, m.client.B().Sunion().Key(instances...).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster roster: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// Close removes this instance's presence and closes the client
func (m *ValkeyMirror) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.client.DoMulti(ctx,
		m.client.B().Del().Key(m.instanceKey).Build(),
		m.client.B().Srem().Key(m.indexKey).Member(m.instanceKey).Build(),
	)
	m.client.Close()
}
