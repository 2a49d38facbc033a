package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// removeScript deletes the hash field only when it still belongs to the
// given client.
var removeScript = redis.NewScript(`
	local raw = redis.call('HGET', KEYS[1], ARGV[1])
	if not raw then
		return 0
	end
	local entry = cjson.decode(raw)
	if entry['clientId'] ~= ARGV[2] then
		return 0
	end
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 1
`)

// Redis keeps presence in a single hash shared by all instances.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis stores entries under prefix + "presence".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, key: prefix + "presence"}
}

// Set records e as the user's live connection, replacing any earlier entry.
func (r *Redis) Set(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, e.UserID, data).Err(); err != nil {
		return fmt.Errorf("presence set: %w", err)
	}
	return nil
}

// Remove deletes the user's entry only if it still belongs to clientID. The
// check and delete run as one script so a newer connection is never erased.
func (r *Redis) Remove(ctx context.Context, userID, clientID string) (bool, error) {
	n, err := removeScript.Run(ctx, r.client, []string{r.key}, userID, clientID).Int()
	if err != nil {
		return false, fmt.Errorf("presence remove: %w", err)
	}
	return n == 1, nil
}

// Get returns the user's entry and whether one exists.
func (r *Redis) Get(ctx context.Context, userID string) (Entry, bool, error) {
	raw, err := r.client.HGet(ctx, r.key, userID).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("presence get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode presence: %w", err)
	}
	return e, true, nil
}

// Online returns every entry sorted by user id.
func (r *Redis) Online(ctx context.Context) ([]Entry, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	out := make([]Entry, 0, len(all))
	for _, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}
