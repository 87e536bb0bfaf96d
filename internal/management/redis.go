package management

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefixRecord is the prefix for record hashes
	KeyPrefixRecord = "openesb:mbean:"
	// KeyAllRecords is the set of every registered object name
	KeyAllRecords = "openesb:mbeans:all"

	fieldName      = "name"
	fieldOwner     = "owner"
	fieldUpdatedAt = "updated_at"
	attrPrefix     = "attr."
)

// RecordKey returns the Redis key for a record
func RecordKey(name ObjectName) string {
	return KeyPrefixRecord + string(name)
}

// RedisStore keeps records as Redis hashes so several processes, possibly on
// several hosts, see the same directory.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store over an already connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, name ObjectName) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, RecordKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotRegistered
	}
	return decodeRecord(name, fields), nil
}

// claimRecord creates the record hash, its expiry and its set entry in one
// step, or does nothing when the key already exists.
// KEYS: record key, set key. ARGV: ttl in ms (0 persists), name, then
// field/value pairs.
var claimRecord = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

// Create claims the record atomically; whichever process runs the claim
// first owns the record.
func (s *RedisStore) Create(ctx context.Context, rec *Record, ttl time.Duration) error {
	values := recordValues(rec)
	args := make([]interface{}, 0, 2+2*len(values))
	args = append(args, ttl.Milliseconds(), string(rec.Name))
	for k, v := range values {
		args = append(args, k, v)
	}

	won, err := claimRecord.Run(ctx, s.client, []string{RecordKey(rec.Name), KeyAllRecords}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to claim record %s: %w", rec.Name, err)
	}
	if won == 0 {
		return ErrAlreadyRegistered
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, rec *Record, ttl time.Duration) error {
	exists, err := s.client.Exists(ctx, RecordKey(rec.Name)).Result()
	if err != nil {
		return fmt.Errorf("failed to check record %s: %w", rec.Name, err)
	}
	if exists == 0 {
		return ErrNotRegistered
	}
	return s.write(ctx, rec, ttl)
}

// write replaces rec in one MULTI/EXEC, dropping attributes that are no
// longer part of the snapshot.
func (s *RedisStore) write(ctx context.Context, rec *Record, ttl time.Duration) error {
	key := RecordKey(rec.Name)
	values := recordValues(rec)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	} else {
		pipe.Persist(ctx, key)
	}
	pipe.SAdd(ctx, KeyAllRecords, string(rec.Name))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.Name, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name ObjectName) error {
	n, err := s.client.Del(ctx, RecordKey(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", name, err)
	}
	if err := s.client.SRem(ctx, KeyAllRecords, string(name)).Err(); err != nil {
		return fmt.Errorf("failed to remove record %s from set: %w", name, err)
	}
	if n == 0 {
		return ErrNotRegistered
	}
	return nil
}

// List returns every live record. Names whose hash has expired are pruned
// from the set as a side effect.
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	names, err := s.client.SMembers(ctx, KeyAllRecords).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]*Record, 0, len(names))
	for _, n := range names {
		rec, err := s.Get(ctx, ObjectName(n))
		if errors.Is(err, ErrNotRegistered) {
			_ = s.client.SRem(ctx, KeyAllRecords, n).Err()
			continue
		}
		if err != nil {
			// Skip records that couldn't be retrieved
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *RedisStore) Touch(ctx context.Context, name ObjectName, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ok, err := s.client.Expire(ctx, RecordKey(name), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh record %s: %w", name, err)
	}
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

func recordValues(rec *Record) map[string]interface{} {
	values := map[string]interface{}{
		fieldName:      string(rec.Name),
		fieldOwner:     rec.Owner,
		fieldUpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range rec.Attributes {
		values[attrPrefix+k] = v
	}
	return values
}

func decodeRecord(name ObjectName, fields map[string]string) *Record {
	rec := &Record{
		Name:       name,
		Owner:      fields[fieldOwner],
		Attributes: make(map[string]string),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err == nil {
		rec.UpdatedAt = ts
	}
	for k, v := range fields {
		if attr, ok := strings.CutPrefix(k, attrPrefix); ok {
			rec.Attributes[attr] = v
		}
	}
	return rec
}
