// Package discovery resolves multipath channel endpoints through etcd,
// adapted from the teacher's gateway discovery.EtcdClient.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Endpoint is one discovered channel transport address.
type Endpoint struct {
	ChannelID string
	Address   string
}

// Handler reacts to a channel endpoint appearing or disappearing.
type Handler func(added bool, ep Endpoint)

// Client watches an etcd prefix for channel endpoints a host can dial.
type Client struct {
	client *clientv3.Client
	logger *zap.Logger
	prefix string

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures a Client.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewClient creates a Client against the given etcd endpoints.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Info("etcd discovery client created", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client: cli,
		logger: logger,
		prefix: cfg.Prefix,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Watch lists the currently registered channel endpoints under the
// client's prefix, invokes handler for each, then keeps invoking handler
// as endpoints are added or removed until the Client is closed.
func (c *Client) Watch(handler Handler) error {
	resp, err := c.client.Get(c.ctx, c.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("list channel endpoints: %w", err)
	}
	for _, kv := range resp.Kvs {
		handler(true, Endpoint{ChannelID: string(kv.Key), Address: string(kv.Value)})
	}

	watchCh := c.client.Watch(c.ctx, c.prefix, clientv3.WithPrefix())
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case watchResp, ok := <-watchCh:
				if !ok {
					c.logger.Warn("etcd watch channel closed")
					return
				}
				if watchResp.Err() != nil {
					c.logger.Error("etcd watch error", zap.Error(watchResp.Err()))
					continue
				}
				for _, ev := range watchResp.Events {
					ep := Endpoint{ChannelID: string(ev.Kv.Key)}
					switch ev.Type {
					case clientv3.EventTypePut:
						ep.Address = string(ev.Kv.Value)
						handler(true, ep)
					case clientv3.EventTypeDelete:
						handler(false, ep)
					}
				}
			}
		}
	}()
	return nil
}

// Close stops watching and releases the underlying etcd client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return c.client.Close()
}
