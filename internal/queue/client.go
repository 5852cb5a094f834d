package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultGroup is the consumer group shared by all workers.
	DefaultGroup = "lore-workers"
	// DefaultBase is the stream name prefix; priority suffixes hang off it.
	DefaultBase = "lore:asset-jobs"
)

// Config holds broker configuration.
type Config struct {
	URL      string
	Base     string
	Group    string
	Consumer string
	// Visibility is how long a delivered message stays invisible to other
	// consumers before it is considered abandoned and reclaimed.
	Visibility time.Duration
	// Block is the long-poll wait when no message is available.
	Block time.Duration
	// MaxAttempts is the delivery count after which a message dead-letters.
	MaxAttempts int
}

// Client wraps the Redis Streams operations behind queue semantics. Two
// priority streams exist under the base name; high drains before default.
type Client struct {
	rdb         *redis.Client
	url         string
	base        string
	group       string
	consumer    string
	visibility  time.Duration
	block       time.Duration
	maxAttempts int
}

// NewClient builds an unconnected client, filling config defaults.
func NewClient(cfg Config) *Client {
	if cfg.Base == "" {
		cfg.Base = DefaultBase
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-" + uuid.New().String()[:8]
	}
	if cfg.Visibility == 0 {
		cfg.Visibility = 15 * time.Minute
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return &Client{
		url:         cfg.URL,
		base:        cfg.Base,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		visibility:  cfg.Visibility,
		block:       cfg.Block,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Connect establishes the Redis connection and creates the consumer groups.
func (c *Client) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(c.url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	c.rdb = redis.NewClient(opts)
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	return c.ensureGroups(ctx)
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Consumer returns this client's consumer name within the group.
func (c *Client) Consumer() string { return c.consumer }

// MaxAttempts returns the delivery count budget before dead-lettering.
func (c *Client) MaxAttempts() int { return c.maxAttempts }

// Streams returns the priority streams in drain order.
func (c *Client) Streams() []string {
	return []string{c.base + ":high", c.base + ":default"}
}

// DeadLetterStream returns the stream exhausted messages land on.
func (c *Client) DeadLetterStream() string {
	return c.base + ":dlq"
}

func (c *Client) ensureGroups(ctx context.Context) error {
	for _, stream := range c.Streams() {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return &OpError{Op: "group create", Stream: stream, Err: err}
		}
	}
	return nil
}

// Publish appends the message to the stream matching its priority and returns
// the stream entry ID.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal queue message: %w", err)
	}

	stream := c.streamFor(msg.Priority)
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"job_id":  msg.JobID.String(),
			"type":    string(msg.Type),
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return "", &OpError{Op: "publish", Stream: stream, Err: err}
	}
	return id, nil
}

func (c *Client) streamFor(priority int) string {
	if priority > 0 {
		return c.base + ":high"
	}
	return c.base + ":default"
}

// Receive returns up to max deliveries. Reclaimed messages (pending longer
// than the visibility window, their consumer presumed dead) come first, then
// fresh entries; the high stream drains before the default one. When nothing
// is available it blocks up to the configured wait and returns an empty
// slice.
func (c *Client) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	var out []Delivery
	for _, stream := range c.Streams() {
		if len(out) >= max {
			return out, nil
		}
		claimed, err := c.reclaim(ctx, stream, max-len(out))
		if err != nil {
			return out, err
		}
		out = append(out, claimed...)
	}
	if len(out) > 0 {
		return out, nil
	}

	// One XREADGROUP per stream, each bounded by the remaining budget.
	// COUNT applies per stream, so a combined read over both streams can
	// move up to twice the budget into this consumer's pending list; the
	// surplus would sit invisible until the visibility window reclaims it.
	streams := c.Streams()
	for i, stream := range streams {
		remaining := max - len(out)
		if remaining == 0 {
			break
		}
		block := time.Duration(-1)
		if len(out) == 0 && i == len(streams)-1 {
			block = c.block
		}
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(remaining),
			Block:    block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return out, &OpError{Op: "read", Stream: stream, Err: err}
		}
		for _, sr := range res {
			for _, msg := range sr.Messages {
				d, err := c.toDelivery(ctx, sr.Stream, msg)
				if err != nil {
					return out, err
				}
				out = append(out, *d)
			}
		}
	}
	return out, nil
}

// reclaim transfers entries pending longer than the visibility window to this
// consumer. This is the redelivery path for leases whose worker vanished.
func (c *Client) reclaim(ctx context.Context, stream string, max int) ([]Delivery, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &OpError{Op: "reclaim", Stream: stream, Err: err}
	}

	var out []Delivery
	for _, msg := range msgs {
		d, err := c.toDelivery(ctx, stream, msg)
		if err != nil {
			return out, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// Ack acknowledges and removes a processed message. Called for every final
// disposition; only unacked messages come back.
func (c *Client) Ack(ctx context.Context, d Delivery) error {
	if err := c.rdb.XAck(ctx, d.Stream, c.group, d.MessageID).Err(); err != nil {
		return &OpError{Op: "ack", Stream: d.Stream, Err: err}
	}
	if err := c.rdb.XDel(ctx, d.Stream, d.MessageID).Err(); err != nil {
		return &OpError{Op: "del", Stream: d.Stream, Err: err}
	}
	return nil
}

// ExtendVisibility restarts the delivery's idle clock, keeping the lease with
// this consumer for another full window. Long-running generations call it
// periodically so the reclaimer does not steal their message.
func (c *Client) ExtendVisibility(ctx context.Context, d Delivery) error {
	err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   d.Stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  0,
		Messages: []string{d.MessageID},
	}).Err()
	if err != nil && err != redis.Nil {
		return &OpError{Op: "extend", Stream: d.Stream, Err: err}
	}
	return nil
}

// DeadLetter copies the delivery onto the dead letter stream with the failure
// reason, then acks the original so it stops redelivering.
func (c *Client) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	payload, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	dlq := c.DeadLetterStream()
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq,
		Values: map[string]any{
			"job_id":          d.JobID.String(),
			"payload":         string(payload),
			"reason":          reason,
			"attempts":        d.Attempts,
			"original_stream": d.Stream,
			"original_id":     d.MessageID,
			"moved_at":        time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return &OpError{Op: "dead letter", Stream: dlq, Err: err}
	}
	return c.Ack(ctx, d)
}

func (c *Client) toDelivery(ctx context.Context, stream string, msg redis.XMessage) (*Delivery, error) {
	d := &Delivery{Stream: stream, MessageID: msg.ID, Attempts: 1}

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, &OpError{Op: "decode", Stream: stream, Err: fmt.Errorf("message %s has no payload", msg.ID)}
	}
	if err := json.Unmarshal([]byte(payload), &d.Message); err != nil {
		return nil, &OpError{Op: "decode", Stream: stream, Err: err}
	}

	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  msg.ID,
		End:    msg.ID,
		Count:  1,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, &OpError{Op: "pending", Stream: stream, Err: err}
	}
	if len(pending) > 0 {
		d.Attempts = pending[0].RetryCount
	}
	return d, nil
}
