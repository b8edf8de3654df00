package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/sentrygrid/incidentops/pkg/incident"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

// redisClient is the subset of *redis.Client / *redis.ClusterClient this
// backend needs, so both the single-node and cluster deployments in
// spec.md §6 (storage.backend: redis | redis-cluster) share one
// implementation.
type redisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const (
	incidentKeyPrefix    = "incident/"
	fingerprintKeyPrefix = "fingerprint/"
)

// dualWriteScript performs the primary incident write and the fingerprint
// set membership update atomically in one round trip (spec.md §4.1's
// "fingerprint index updates atomically with the primary write"), the way
// a Lua EVAL gives atomicity without a server-side transaction API.
var dualWriteScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
if ARGV[2] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[3])
end
return 1
`)

// Redis is the redis / redis-cluster backend.
type Redis struct {
	client redisClient
}

func NewRedis(client redisClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Save(ctx context.Context, inc *incident.Incident) error {
	return r.write(ctx, inc)
}

func (r *Redis) write(ctx context.Context, inc *incident.Incident) error {
	snap := inc.Clone()
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal incident")
	}

	fpKey, fpHex := "", ""
	if snap.HasFingerprint {
		fpHex = snap.Fingerprint.Hex()
		fpKey = fingerprintKeyPrefix + fpHex
	}

	err = dualWriteScript.Run(ctx, r.client,
		[]string{incidentKeyPrefix + snap.ID, fpKey},
		string(data), fpHex, snap.ID,
	).Err()
	if err != nil {
		return apperrors.NewBackendUnavailableError("redis", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*incident.Incident, error) {
	data, err := r.client.Get(ctx, incidentKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, apperrors.NewNotFoundError("incident")
	}
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("redis", err)
	}
	var inc incident.Incident
	if err := json.Unmarshal([]byte(data), &inc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal incident")
	}
	return &inc, nil
}

func (r *Redis) Update(ctx context.Context, inc *incident.Incident) error {
	existing, err := r.Get(ctx, inc.ID)
	if err != nil {
		return err
	}
	if len(inc.Timeline) < len(existing.Timeline) {
		return apperrors.NewValidationError("update would shrink the append-only timeline")
	}
	return r.write(ctx, inc)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	keys := []string{incidentKeyPrefix + id}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.NewBackendUnavailableError("redis", err)
	}
	if existing.HasFingerprint {
		if err := r.client.SRem(ctx, fingerprintKeyPrefix+existing.Fingerprint.Hex(), id).Err(); err != nil {
			return apperrors.NewBackendUnavailableError("redis", err)
		}
	}
	return nil
}

// List and Count scan the incident/* namespace — acceptable for the
// moderate cardinalities this system targets (spec.md doesn't specify a
// secondary index requirement beyond fingerprint).
func (r *Redis) List(ctx context.Context, filter Filter, page Page) ([]*incident.Incident, error) {
	all, err := r.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*incident.Incident
	for _, inc := range all {
		if filter.matches(inc) {
			matched = append(matched, inc)
		}
	}
	sortByCreatedDesc(matched)
	return clampPage(matched, page), nil
}

func (r *Redis) Count(ctx context.Context, filter Filter) (int, error) {
	all, err := r.scanAll(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, inc := range all {
		if filter.matches(inc) {
			count++
		}
	}
	return count, nil
}

func (r *Redis) scanAll(ctx context.Context) ([]*incident.Incident, error) {
	var out []*incident.Incident
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, incidentKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, apperrors.NewBackendUnavailableError("redis", err)
		}
		for _, key := range keys {
			data, err := r.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var inc incident.Incident
			if err := json.Unmarshal([]byte(data), &inc); err != nil {
				continue
			}
			out = append(out, &inc)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *Redis) FindByFingerprint(ctx context.Context, fp incident.Fingerprint) ([]*incident.Incident, error) {
	ids, err := r.client.SMembers(ctx, fingerprintKeyPrefix+fp.Hex()).Result()
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("redis", err)
	}
	out := make([]*incident.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}
