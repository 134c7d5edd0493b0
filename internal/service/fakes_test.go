package service

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/clinic-api/internal/model"
	"github.com/iliyamo/clinic-api/internal/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeTokens keeps refresh tokens in memory with the same rules as the
// MySQL repository: rotation locks the active row, and a hook failure or a
// commit failure leaves every row untouched.
type fakeTokens struct {
	mu         sync.Mutex
	rows       []*model.RefreshToken
	nextID     uint64
	users      *fakeUsers
	failCommit error
}

func (f *fakeTokens) Insert(_ context.Context, t *model.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(t)
}

func (f *fakeTokens) insertLocked(t *model.RefreshToken) error {
	for _, r := range f.rows {
		if r.TokenHash == t.TokenHash {
			return repository.ErrConflict
		}
	}
	f.nextID++
	t.ID = f.nextID
	cp := *t
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeTokens) FindByHash(_ context.Context, hash string) (repository.RefreshLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.TokenHash == hash {
			lk := repository.RefreshLookup{Token: *r, UserStatus: model.UserActive}
			if u, ok := f.users.byID[r.UserID]; ok {
				lk.UserStatus = u.Status
				lk.UserDeleted = u.DeletedAt != nil
			}
			return lk, nil
		}
	}
	return repository.RefreshLookup{}, repository.ErrNotFound
}

func (f *fakeTokens) Rotate(_ context.Context, oldHash string, userID, tenantID uint64, next *model.RefreshToken, now time.Time, beforeCommit func(string) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var old *model.RefreshToken
	for _, r := range f.rows {
		if r.TokenHash == oldHash && r.UserID == userID && r.TenantID == tenantID && !r.Revoked && !r.Expired(now) {
			old = r
		}
	}
	if old == nil {
		return repository.ErrNotFound
	}
	next.UserID, next.TenantID, next.Family = userID, tenantID, old.Family
	if beforeCommit != nil {
		if err := beforeCommit(old.Family); err != nil {
			return err
		}
	}
	if f.failCommit != nil {
		return f.failCommit
	}
	old.Revoked = true
	return f.insertLocked(next)
}

func (f *fakeTokens) revokeWhere(match func(*model.RefreshToken) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if !r.Revoked && match(r) {
			r.Revoked = true
			n++
		}
	}
	return n
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) (int64, error) {
	return f.revokeWhere(func(r *model.RefreshToken) bool { return r.TokenHash == hash }), nil
}

func (f *fakeTokens) RevokeByID(_ context.Context, id, userID uint64) (int64, error) {
	return f.revokeWhere(func(r *model.RefreshToken) bool { return r.ID == id && r.UserID == userID }), nil
}

func (f *fakeTokens) RevokeFamily(_ context.Context, family string) (int64, error) {
	return f.revokeWhere(func(r *model.RefreshToken) bool { return r.Family == family }), nil
}

func (f *fakeTokens) RevokeFamilyForUser(_ context.Context, family string, userID uint64) (int64, error) {
	return f.revokeWhere(func(r *model.RefreshToken) bool { return r.Family == family && r.UserID == userID }), nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID uint64) (int64, error) {
	return f.revokeWhere(func(r *model.RefreshToken) bool { return r.UserID == userID }), nil
}

func (f *fakeTokens) ActiveFamilies(_ context.Context, userID uint64, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range f.rows {
		if r.UserID == userID && !r.Revoked && !r.Expired(now) && !seen[r.Family] {
			seen[r.Family] = true
			out = append(out, r.Family)
		}
	}
	return out, nil
}

func (f *fakeTokens) ListSessions(_ context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Session{}
	for _, r := range f.rows {
		if r.UserID == userID && !r.Revoked && !r.Expired(now) {
			out = append(out, model.Session{Family: r.Family, IP: r.IP, UserAgent: r.UserAgent, LastUsed: r.CreatedAt, ExpiresAt: r.ExpiresAt})
		}
	}
	return out, nil
}

func (f *fakeTokens) DeleteExpiredOrRevoked(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var n int64
	for _, r := range f.rows {
		if r.Revoked || r.Expired(now) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.rows = kept
	return n, nil
}

// active returns the non-revoked rows of family.
func (f *fakeTokens) active(family string) []model.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RefreshToken
	for _, r := range f.rows {
		if r.Family == family && !r.Revoked {
			out = append(out, *r)
		}
	}
	return out
}

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[uint64]*model.User
	nextID uint64
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[uint64]*model.User{}, nextID: 100} }

func (f *fakeUsers) add(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = &u
}

func (f *fakeUsers) get(id uint64) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.byID[id]
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.byID {
		if o.TenantID == u.TenantID && (o.Username == u.Username || o.EmailHash == u.EmailHash) {
			return 0, repository.ErrConflict
		}
	}
	f.nextID++
	cp := *u
	cp.ID = f.nextID
	f.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, tenantID uint64, username string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.TenantID == tenantID && u.Username == username {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByEmailHash(_ context.Context, tenantID uint64, hash string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.TenantID == tenantID && u.EmailHash == hash && u.DeletedAt == nil {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, tenantID, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok && u.TenantID == tenantID {
		return *u, nil
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, tenantID, id uint64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok || u.TenantID != tenantID {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

type fakeRoles map[uint64]model.Role

func (f fakeRoles) Get(_ context.Context, tenantID, roleID uint64) (model.Role, error) {
	r, ok := f[roleID]
	if !ok || r.TenantID != tenantID {
		return model.Role{}, repository.ErrNotFound
	}
	return r, nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (a *recordingAuditor) Record(_ context.Context, e model.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAuditor) List(_ context.Context, tenantID uint64, f repository.AuditFilter) ([]model.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []model.AuditLog{}
	for _, e := range a.entries {
		if e.TenantID == tenantID && (f.Event == "" || e.Event == f.Event) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *recordingAuditor) events(name string) []model.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.AuditLog
	for _, e := range a.entries {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}
