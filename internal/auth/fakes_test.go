package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/miniauth/internal/model"
	"github.com/hitoshi/miniauth/internal/provider"
	"github.com/hitoshi/miniauth/internal/repository"
)

// --- モック定義 ---

type mockProvider struct {
	exchangeFn func(ctx context.Context, code string) (*provider.Exchange, error)
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*provider.Exchange, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, nil
}

// codeProvider はコードから決定的に外部IDを返す。codeToExternalにない場合は"ext_<code>"。
func codeProvider(codeToExternal map[string]string) *mockProvider {
	return &mockProvider{
		exchangeFn: func(_ context.Context, code string) (*provider.Exchange, error) {
			ext, ok := codeToExternal[code]
			if !ok {
				ext = "ext_" + code
			}
			return &provider.Exchange{ExternalID: ext, SessionKey: "sk_" + code}, nil
		},
	}
}

// memUserRepo はインメモリのユーザーリポジトリ。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // external_id -> user
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (r *memUserRepo) FindByExternalID(_ context.Context, externalID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[externalID]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ExternalID]; ok {
		return repository.ErrDuplicate
	}
	copied := *user
	r.users[user.ExternalID] = &copied
	return nil
}

func (r *memUserRepo) UpdateProfile(_ context.Context, _ string, _, _ *string) (*model.User, error) {
	return nil, nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// memSessionRepo はインメモリのセッションリポジトリ。
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session // token -> session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.Token]; ok {
		return repository.ErrDuplicate
	}
	copied := *session
	r.sessions[session.Token] = &copied
	return nil
}

func (r *memSessionRepo) FindByToken(_ context.Context, token string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (r *memSessionRepo) FindAllByUserID(_ context.Context, userID string) ([]*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			copied := *s
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *memSessionRepo) Extend(_ context.Context, token string, expiresAt time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	s.ExpiresAt = model.NewSessionExpiry(expiresAt)
	copied := *s
	return &copied, nil
}

func (r *memSessionRepo) DeleteByToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

func (r *memSessionRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for token, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memSessionRepo) put(session *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.Token] = &copied
}

func (r *memSessionRepo) countFor(userID string) int {
	sessions, _ := r.FindAllByUserID(context.Background(), userID)
	return len(sessions)
}

// mockSessionRepo はエラー注入用のセッションリポジトリ。未設定のメソッドはゼロ値を返す。
type mockSessionRepo struct {
	createFn          func(ctx context.Context, session *model.Session) error
	findByTokenFn     func(ctx context.Context, token string) (*model.Session, error)
	findAllByUserIDFn func(ctx context.Context, userID string) ([]*model.Session, error)
	extendFn          func(ctx context.Context, token string, expiresAt time.Time) (*model.Session, error)
	deleteByTokenFn   func(ctx context.Context, token string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	if m.findByTokenFn != nil {
		return m.findByTokenFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionRepo) FindAllByUserID(ctx context.Context, userID string) ([]*model.Session, error) {
	if m.findAllByUserIDFn != nil {
		return m.findAllByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSessionRepo) Extend(ctx context.Context, token string, expiresAt time.Time) (*model.Session, error) {
	if m.extendFn != nil {
		return m.extendFn(ctx, token, expiresAt)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	if m.deleteByTokenFn != nil {
		return m.deleteByTokenFn(ctx, token)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpiredBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// recordingCollector は記録されたメトリクスを保持する。
type recordingCollector struct {
	mu     sync.Mutex
	logins []string
	guards []string
}

func (c *recordingCollector) RecordLogin(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins = append(c.logins, outcome)
}

func (c *recordingCollector) RecordProviderLatency(time.Duration) {}

func (c *recordingCollector) RecordGuard(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guards = append(c.guards, outcome)
}

func (c *recordingCollector) RecordHTTPStatus(int)       {}
func (c *recordingCollector) RecordSessionsPurged(int64) {}

// fakeClock はテスト用の可変時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ repository.SessionRepository = (*memSessionRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ provider.Provider = (*mockProvider)(nil)
