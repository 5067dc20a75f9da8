package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// Redis key layout
const (
	RedisKeyAuditPrefix  = "extract:audit:"  // list of audit JSON per run
	RedisKeyStatusPrefix = "extract:status:" // hash of status -> partition count per run
)

// RedisSink mirrors audits into Redis so other processes can follow a run
type RedisSink struct {
	redis *redis.Client
}

// NewRedisSink creates a sink on an existing client
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{redis: client}
}

// DialRedis parses a redis:// URL and verifies the connection
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RecordPartition appends the audit to the run's list and bumps its status counter
func (s *RedisSink) RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error {
	audit.RunID = runID
	data, err := json.Marshal(audit)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, RedisKeyAuditPrefix+runID, data)
	pipe.HIncrBy(ctx, RedisKeyStatusPrefix+runID, string(audit.Status), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store audit in redis: %w", err)
	}
	return nil
}

// Audits reads back the audit list of a run in insertion order
func (s *RedisSink) Audits(ctx context.Context, runID string) ([]domain.PartitionAudit, error) {
	items, err := s.redis.LRange(ctx, RedisKeyAuditPrefix+runID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	audits := make([]domain.PartitionAudit, 0, len(items))
	for _, item := range items {
		var a domain.PartitionAudit
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, nil
}

// StatusCounts returns how many partitions of a run ended in each status
func (s *RedisSink) StatusCounts(ctx context.Context, runID string) (map[domain.AuditStatus]int, error) {
	raw, err := s.redis.HGetAll(ctx, RedisKeyStatusPrefix+runID).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.AuditStatus]int, len(raw))
	for status, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("status count %s: %w", status, err)
		}
		counts[domain.AuditStatus(status)] = n
	}
	return counts, nil
}

// Close closes the client
func (s *RedisSink) Close() error {
	return s.redis.Close()
}
