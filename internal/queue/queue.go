package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueuePublishLongform = "queue:publish_longform"

	claimKeyPrefix = "longform:claim:"
)

// releaseScript deletes the claim only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID             uuid.UUID  `json:"id"`
	Type           string     `json:"type"`
	ProjectID      uuid.UUID  `json:"project_id"`
	UserID         uuid.UUID  `json:"user_id"`
	ChannelID      *uuid.UUID `json:"channel_id,omitempty"`
	FinalVideoPath string     `json:"final_video_path"`
	CreatedAt      time.Time  `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// PublishQueueLength reports how many finished projects wait for the publish pipeline.
func (q *Queue) PublishQueueLength(ctx context.Context) (int64, error) {
	return q.GetQueueLength(ctx, QueuePublishLongform)
}

// EnqueuePublish hands a ready_for_review project to the publish pipeline.
func (q *Queue) EnqueuePublish(ctx context.Context, projectID, userID uuid.UUID, channelID *uuid.UUID, finalVideoPath string) error {
	job := &Job{
		ID:             uuid.New(),
		Type:           "publish_longform",
		ProjectID:      projectID,
		UserID:         userID,
		ChannelID:      channelID,
		FinalVideoPath: finalVideoPath,
	}
	return q.Enqueue(ctx, QueuePublishLongform, job)
}

// AcquireClaim takes the per-project processing lock. It returns an empty
// token when another runner holds it.
func (q *Queue) AcquireClaim(ctx context.Context, projectID uuid.UUID, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := q.client.SetNX(ctx, claimKeyPrefix+projectID.String(), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire claim: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseClaim drops the lock if token still owns it.
func (q *Queue) ReleaseClaim(ctx context.Context, projectID uuid.UUID, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, q.client, []string{claimKeyPrefix + projectID.String()}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}
