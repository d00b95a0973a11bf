package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hitoshi/miniauth/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix     = "session:"
	redisUserSessionPrefix = "user_sessions:"
)

// keepIndexScript はユーザー索引の残り時間を、索引内で最も遅いセッションの消去時刻まで伸ばす。
// 索引の寿命は縮めない。
const keepIndexScript = `
local function keep_index(key, purge_at, now)
  local want = tonumber(purge_at) - tonumber(now)
  if want <= 0 then
    return
  end
  local ttl = redis.call("PTTL", key)
  if ttl == -1 or ttl < want then
    redis.call("PEXPIRE", key, want)
  end
end
`

// createSessionScript はトークンが未使用の場合のみセッションを書き込み、ユーザー索引に追加する。
const createSessionScript = keepIndexScript + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "token", ARGV[3], "expires_at", ARGV[4], "created_at", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], ARGV[6])
redis.call("SADD", KEYS[2], ARGV[3])
keep_index(KEYS[2], ARGV[6], ARGV[7])
return 1
`

// extendSessionScript は既存セッションのexpires_atのみを上書きし、ユーザー索引の寿命も合わせる。
const extendSessionScript = keepIndexScript + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "expires_at", ARGV[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[2])
local user_id = redis.call("HGET", KEYS[1], "user_id")
if user_id then
  keep_index(ARGV[3] .. user_id, ARGV[2], ARGV[4])
end
return 1
`

// deleteSessionScript はセッションとユーザー索引のエントリを削除する。
const deleteSessionScript = `
local user_id = redis.call("HGET", KEYS[1], "user_id")
redis.call("DEL", KEYS[1])
if user_id then
  redis.call("SREM", ARGV[1] .. user_id, ARGV[2])
end
return 1
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	extendSessionLua = redis.NewScript(extendSessionScript)
	deleteSessionLua = redis.NewScript(deleteSessionScript)
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// session:<token> にハッシュ、user_sessions:<user_id> にトークン集合を保持する。
// セッションキーはexpires_at + retention で自動失効し、
// 索引はその中で最も遅いセッションと同時に失効する。
type RedisSessionRepo struct {
	rdb       *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
// retentionは有効期限切れのセッションを判定用に残しておく期間。
func NewRedisSessionRepo(rdb *redis.Client, retention time.Duration) *RedisSessionRepo {
	return &RedisSessionRepo{rdb: rdb, retention: retention, now: time.Now}
}

func (r *RedisSessionRepo) nowMilli() string {
	return strconv.FormatInt(r.now().UnixMilli(), 10)
}

func sessionKey(token string) string {
	return redisSessionPrefix + token
}

func userSessionsKey(userID string) string {
	return redisUserSessionPrefix + userID
}

func (r *RedisSessionRepo) purgeAt(expiresAt time.Time) string {
	return strconv.FormatInt(expiresAt.Add(r.retention).UnixMilli(), 10)
}

func formatNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

// Create はセッションを作成する。トークンが既に存在する場合はErrDuplicateを返す。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	created, err := createSessionLua.Run(ctx, r.rdb,
		[]string{sessionKey(session.Token), userSessionsKey(session.UserID)},
		session.ID, session.UserID, session.Token,
		formatNano(session.ExpiresAt.Time), formatNano(session.CreatedAt),
		r.purgeAt(session.ExpiresAt.Time), r.nowMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

// FindByToken はトークンでセッションを取得する。見つからない場合はnilを返す。
func (r *RedisSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	session, err := decodeSession(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

// FindAllByUserID は指定ユーザーの全セッションをexpires_at降順で返す。
// 失効済みキーを指す索引エントリはこの時点で取り除く。
func (r *RedisSessionRepo) FindAllByUserID(ctx context.Context, userID string) ([]*model.Session, error) {
	indexKey := userSessionsKey(userID)
	tokens, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}

	var sessions []*model.Session
	var stale []any
	for _, token := range tokens {
		session, err := r.FindByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if session == nil {
			stale = append(stale, token)
			continue
		}
		sessions = append(sessions, session)
	}

	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune session index: %w", err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ExpiresAt.After(sessions[j].ExpiresAt.Time)
	})
	return sessions, nil
}

// Extend はセッションの有効期限をexpiresAtで上書きする。見つからない場合はnilを返す。
func (r *RedisSessionRepo) Extend(ctx context.Context, token string, expiresAt time.Time) (*model.Session, error) {
	updated, err := extendSessionLua.Run(ctx, r.rdb,
		[]string{sessionKey(token)},
		formatNano(expiresAt), r.purgeAt(expiresAt),
		redisUserSessionPrefix, r.nowMilli(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if updated == 0 {
		return nil, nil
	}
	return r.FindByToken(ctx, token)
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *RedisSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	err := deleteSessionLua.Run(ctx, r.rdb,
		[]string{sessionKey(token)},
		redisUserSessionPrefix, token,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredBefore はexpires_atがcutoffより前のセッションを削除する。
// キーの自動失効より早く掃除したい場合にワーカーから呼ばれる。
func (r *RedisSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	iter := r.rdb.Scan(ctx, 0, redisSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.rdb.HGet(ctx, key, "expires_at").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to read session expiry: %w", err)
		}
		expiresAt, err := parseNano(raw)
		if err != nil || !expiresAt.Before(cutoff) {
			continue
		}
		if err := r.DeleteByToken(ctx, key[len(redisSessionPrefix):]); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return deleted, nil
}

func decodeSession(fields map[string]string) (*model.Session, error) {
	expiresAt, err := parseNano(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	createdAt, err := parseNano(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	return &model.Session{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Token:     fields["token"],
		ExpiresAt: model.NewSessionExpiry(expiresAt),
		CreatedAt: createdAt,
	}, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
