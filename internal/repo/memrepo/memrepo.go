// Package memrepo implements the repo interfaces in memory. Every mutation is
// serialized on the key it touches (account, session, device, challenge key);
// there is no store-wide lock.
package memrepo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basego/server/internal/model"
	"github.com/basego/server/internal/repo"
)

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	m sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	v, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

type accountEntry struct {
	mu  sync.Mutex
	a   model.Account
	tos *model.TOSAcceptance
}

type sessionEntry struct {
	mu       sync.Mutex
	s        model.Session
	tokenIDs []int64
}

// tokenEntry is guarded by its session's mutex.
type tokenEntry struct {
	sess *sessionEntry
	t    model.Token
}

type otpEntry struct {
	mu sync.Mutex
	c  model.OTPChallenge
}

// Store is an in-memory credential, session, token and OTP store.
type Store struct {
	// Now is the clock used for created/revoked/consumed timestamps.
	Now func() time.Time

	accountSeq, sessionSeq, tokenSeq, otpSeq atomic.Int64

	accounts sync.Map // int64 -> *accountEntry
	emails   sync.Map // lower(email) -> int64
	apiKeys  sync.Map // keyID -> model.APIKey

	deviceLocks keyedMutex
	active      sync.Map // "account:device" -> int64
	sessions    sync.Map // int64 -> *sessionEntry
	tokens      sync.Map // int64 -> *tokenEntry

	otpLocks keyedMutex
	openOTP  sync.Map // "purpose:target" -> int64
	otps     sync.Map // int64 -> *otpEntry

	Countries []model.Country
	TimeZones []model.TimeZone
}

// New returns an empty store with a small reference data set.
func New() *Store {
	return &Store{
		Now: time.Now,
		Countries: []model.Country{
			{ID: 1, CommonName: "Indonesia", OfficialName: "Republic of Indonesia", ISO2Code: "ID", ISO3Code: "IDN", CallingCode: "62", CurrencyCode: "IDR", IsEnabled: true},
			{ID: 2, CommonName: "Singapore", OfficialName: "Republic of Singapore", ISO2Code: "SG", ISO3Code: "SGP", CallingCode: "65", CurrencyCode: "SGD", IsEnabled: true},
		},
		TimeZones: []model.TimeZone{
			{Name: "Asia/Jakarta", Abbrev: "WIB", UTCOffset: "07:00:00"},
			{Name: "UTC", Abbrev: "UTC", UTCOffset: "00:00:00"},
		},
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func timePtr(t time.Time) *time.Time { return &t }

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() repo.AccountRepo { return accounts{s} }

// APIKeys returns the API key repository view of the store.
func (s *Store) APIKeys() repo.APIKeyRepo { return apiKeys{s} }

// Sessions returns the device session repository view of the store.
func (s *Store) Sessions() repo.SessionRepo { return sessions{s} }

// Tokens returns the token repository view of the store.
func (s *Store) Tokens() repo.TokenRepo { return tokens{s} }

// OTPs returns the OTP challenge repository view of the store.
func (s *Store) OTPs() repo.OtpRepo { return otps{s} }

// Reference returns the reference data view of the store.
func (s *Store) Reference() repo.ReferenceRepo { return reference{s} }

// --- accounts ---

type accounts struct{ s *Store }

func (r accounts) entry(id int64) (*accountEntry, bool) {
	v, ok := r.s.accounts.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*accountEntry), true
}

func (r accounts) Create(_ context.Context, a model.Account, acceptTOS bool) (model.Account, error) {
	now := r.s.now()
	a.ID = r.s.accountSeq.Add(1)
	a.Email = strings.ToLower(a.Email)
	a.CreatedAt, a.UpdatedAt = now, now
	e := &accountEntry{a: a}
	if acceptTOS {
		e.tos = &model.TOSAcceptance{AccountID: a.ID, AcceptedAt: now}
	}
	r.s.accounts.Store(a.ID, e)
	if _, loaded := r.s.emails.LoadOrStore(a.Email, a.ID); loaded {
		r.s.accounts.Delete(a.ID)
		return model.Account{}, repo.ErrDuplicateEmail
	}
	return a, nil
}

func (r accounts) GetByID(_ context.Context, id int64) (model.Account, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.a.IsDeleted() {
		return model.Account{}, repo.ErrNotFound
	}
	return e.a, nil
}

func (r accounts) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	v, ok := r.s.emails.Load(strings.ToLower(email))
	if !ok {
		return model.Account{}, repo.ErrNotFound
	}
	return r.GetByID(ctx, v.(int64))
}

func (r accounts) ExistsByEmail(_ context.Context, email string) (bool, error) {
	_, ok := r.s.emails.Load(strings.ToLower(email))
	return ok, nil
}

func (r accounts) update(id int64, fn func(a *model.Account)) error {
	e, ok := r.entry(id)
	if !ok {
		return repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.a.IsDeleted() {
		return repo.ErrNotFound
	}
	fn(&e.a)
	return nil
}

func (r accounts) SetEmailVerified(_ context.Context, id int64) error {
	now := r.s.now()
	return r.update(id, func(a *model.Account) {
		a.IsEmailVerified = true
		a.UpdatedAt = now
	})
}

func (r accounts) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	now := r.s.now()
	return r.update(id, func(a *model.Account) {
		a.PasswordHash = passwordHash
		a.RequireChangePassword = false
		a.UpdatedAt = now
	})
}

func (r accounts) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(a *model.Account) {
		a.LastLoginAt = timePtr(at)
		a.LastActivityAt = timePtr(at)
	})
}

func (r accounts) UpdateLastActivity(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(a *model.Account) {
		a.LastActivityAt = timePtr(at)
	})
}

func (r accounts) GetTOS(_ context.Context, id int64) (model.TOSAcceptance, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.TOSAcceptance{}, repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tos == nil {
		return model.TOSAcceptance{}, repo.ErrNotFound
	}
	return *e.tos, nil
}

func (r accounts) AcceptTOS(_ context.Context, id int64) (model.TOSAcceptance, bool, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.TOSAcceptance{}, false, repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tos != nil {
		return *e.tos, false, nil
	}
	e.tos = &model.TOSAcceptance{AccountID: id, AcceptedAt: r.s.now()}
	return *e.tos, true, nil
}

// --- api keys ---

type apiKeys struct{ s *Store }

func (r apiKeys) Create(_ context.Context, k model.APIKey) (model.APIKey, error) {
	k.CreatedAt = r.s.now()
	if _, loaded := r.s.apiKeys.LoadOrStore(k.KeyID, k); loaded {
		return model.APIKey{}, fmt.Errorf("insert api key: key %q exists", k.KeyID)
	}
	return k, nil
}

func (r apiKeys) GetByKeyID(_ context.Context, keyID string) (model.APIKey, error) {
	v, ok := r.s.apiKeys.Load(keyID)
	if !ok {
		return model.APIKey{}, repo.ErrNotFound
	}
	return v.(model.APIKey), nil
}

// --- sessions ---

type sessions struct{ s *Store }

func deviceKey(accountID int64, deviceID string) string {
	return fmt.Sprintf("%d:%s", accountID, deviceID)
}

func (r sessions) entry(id int64) (*sessionEntry, bool) {
	v, ok := r.s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*sessionEntry), true
}

func (r sessions) Open(_ context.Context, sess model.Session) (model.Session, []int64, error) {
	now := r.s.now()
	sess.CreatedAt = now
	sess.RevokedAt = nil
	if sess.DeviceID == "" {
		sess.ID = r.s.sessionSeq.Add(1)
		r.s.sessions.Store(sess.ID, &sessionEntry{s: sess})
		return sess, nil, nil
	}

	key := deviceKey(sess.AccountID, sess.DeviceID)
	unlock := r.s.deviceLocks.lock(key)
	defer unlock()

	var superseded []int64
	if v, ok := r.s.active.Load(key); ok {
		if prev, ok := r.entry(v.(int64)); ok {
			prev.mu.Lock()
			if prev.s.Active() {
				prev.s.RevokedAt = timePtr(now)
				r.s.revokeTokens(prev, now)
				superseded = append(superseded, prev.s.ID)
			}
			prev.mu.Unlock()
		}
	}

	sess.ID = r.s.sessionSeq.Add(1)
	r.s.sessions.Store(sess.ID, &sessionEntry{s: sess})
	r.s.active.Store(key, sess.ID)
	return sess, superseded, nil
}

func (r sessions) Get(_ context.Context, id int64) (model.Session, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.Session{}, repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, nil
}

func (r sessions) Revoke(_ context.Context, id int64) error {
	e, ok := r.entry(id)
	if !ok {
		return repo.ErrNotFound
	}
	e.mu.Lock()
	now := r.s.now()
	if e.s.Active() {
		e.s.RevokedAt = timePtr(now)
	}
	r.s.revokeTokens(e, now)
	key := deviceKey(e.s.AccountID, e.s.DeviceID)
	e.mu.Unlock()
	r.s.active.CompareAndDelete(key, id)
	return nil
}

// --- tokens ---

type tokens struct{ s *Store }

func (r tokens) session(id int64) (*sessionEntry, bool) {
	return sessions{r.s}.entry(id)
}

// add stores t under sess; the caller holds sess.mu.
func (r tokens) add(sess *sessionEntry, t model.Token) model.Token {
	t.ID = r.s.tokenSeq.Add(1)
	t.ConsumedAt, t.RevokedAt = nil, nil
	r.s.tokens.Store(t.ID, &tokenEntry{sess: sess, t: t})
	sess.tokenIDs = append(sess.tokenIDs, t.ID)
	return t
}

func (r tokens) Create(_ context.Context, t model.Token) (model.Token, error) {
	sess, ok := r.session(t.SessionID)
	if !ok {
		return model.Token{}, repo.ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.s.Active() {
		return model.Token{}, repo.ErrConflict
	}
	return r.add(sess, t), nil
}

func (r tokens) Get(_ context.Context, id int64) (model.Token, error) {
	v, ok := r.s.tokens.Load(id)
	if !ok {
		return model.Token{}, repo.ErrNotFound
	}
	te := v.(*tokenEntry)
	te.sess.mu.Lock()
	defer te.sess.mu.Unlock()
	return te.t, nil
}

func (r tokens) Rotate(_ context.Context, oldID int64, next model.Token) (model.Token, error) {
	sess, ok := r.session(next.SessionID)
	if !ok {
		return model.Token{}, repo.ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.s.Active() {
		return model.Token{}, repo.ErrConflict
	}

	v, ok := r.s.tokens.Load(oldID)
	if !ok {
		return model.Token{}, repo.ErrConflict
	}
	old := v.(*tokenEntry)
	if old.sess != sess || !old.t.Usable() {
		return model.Token{}, repo.ErrConflict
	}
	old.t.ConsumedAt = timePtr(r.s.now())
	return r.add(sess, next), nil
}

func (r tokens) RevokeBySession(_ context.Context, sessionID int64) error {
	sess, ok := r.session(sessionID)
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	r.s.revokeTokens(sess, r.s.now())
	return nil
}

// revokeTokens revokes every token of sess; the caller holds sess.mu.
func (s *Store) revokeTokens(sess *sessionEntry, now time.Time) {
	for _, id := range sess.tokenIDs {
		v, ok := s.tokens.Load(id)
		if !ok {
			continue
		}
		te := v.(*tokenEntry)
		if te.t.RevokedAt == nil {
			te.t.RevokedAt = timePtr(now)
		}
	}
}

// --- otp ---

type otps struct{ s *Store }

func otpKey(purpose model.OTPPurpose, target string) string {
	return string(purpose) + ":" + target
}

func (r otps) entry(id int64) (*otpEntry, bool) {
	v, ok := r.s.otps.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*otpEntry), true
}

func open(c model.OTPChallenge) bool {
	return c.ConsumedAt == nil && c.InvalidatedAt == nil
}

// invalidateOpen invalidates the open challenge for key; the caller holds the key lock.
func (r otps) invalidateOpen(key string) (sendCount int) {
	v, ok := r.s.openOTP.Load(key)
	if !ok {
		return 0
	}
	e, ok := r.entry(v.(int64))
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !open(e.c) {
		return 0
	}
	e.c.InvalidatedAt = timePtr(r.s.now())
	return e.c.SendCount
}

func (r otps) CreateOrReplace(_ context.Context, c model.OTPChallenge, since time.Time, maxSends int) (model.OTPChallenge, error) {
	key := otpKey(c.Purpose, c.Target)
	unlock := r.s.otpLocks.lock(key)
	defer unlock()

	if r.countSince(c.Purpose, c.Target, since) >= maxSends {
		return model.OTPChallenge{}, repo.ErrLimitExceeded
	}

	c.SendCount = r.invalidateOpen(key) + 1
	c.ID = r.s.otpSeq.Add(1)
	c.CreatedAt = r.s.now()
	c.AttemptCount, c.ConsumedAt, c.InvalidatedAt = 0, nil, nil
	r.s.otps.Store(c.ID, &otpEntry{c: c})
	r.s.openOTP.Store(key, c.ID)
	return c, nil
}

func (r otps) Get(_ context.Context, id int64) (model.OTPChallenge, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.OTPChallenge{}, repo.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c, nil
}

func (r otps) Attempt(_ context.Context, id int64, codeHash string, maxAttempts int) (bool, error) {
	e, ok := r.entry(id)
	if !ok {
		return false, repo.ErrConflict
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !open(e.c) || e.c.AttemptCount >= maxAttempts {
		return false, repo.ErrConflict
	}
	if e.c.CodeHash != codeHash {
		e.c.AttemptCount++
		return false, nil
	}
	return true, nil
}

func (r otps) Consume(_ context.Context, id int64, at time.Time) error {
	e, ok := r.entry(id)
	if !ok {
		return repo.ErrConflict
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !open(e.c) {
		return repo.ErrConflict
	}
	e.c.ConsumedAt = timePtr(at)
	return nil
}

func (r otps) Release(_ context.Context, id int64) error {
	e, ok := r.entry(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	key := otpKey(e.c.Purpose, e.c.Target)
	e.mu.Unlock()

	unlock := r.s.otpLocks.lock(key)
	defer unlock()
	if v, ok := r.s.openOTP.Load(key); !ok || v.(int64) != id {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.InvalidatedAt == nil {
		e.c.ConsumedAt = nil
	}
	return nil
}

func (r otps) InvalidateOpen(_ context.Context, purpose model.OTPPurpose, target string) error {
	key := otpKey(purpose, target)
	unlock := r.s.otpLocks.lock(key)
	defer unlock()
	r.invalidateOpen(key)
	return nil
}

// countSince counts challenges created for (purpose, target) since since; the
// caller holds the key lock.
func (r otps) countSince(purpose model.OTPPurpose, target string, since time.Time) int {
	n := 0
	r.s.otps.Range(func(_, v any) bool {
		e := v.(*otpEntry)
		e.mu.Lock()
		if e.c.Purpose == purpose && e.c.Target == target && !e.c.CreatedAt.Before(since) {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// --- reference data ---

type reference struct{ s *Store }

func (r reference) ListCountries(context.Context) ([]model.Country, error) {
	return append([]model.Country(nil), r.s.Countries...), nil
}

func (r reference) ListTimeZones(context.Context) ([]model.TimeZone, error) {
	return append([]model.TimeZone(nil), r.s.TimeZones...), nil
}
