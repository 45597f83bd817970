package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/notify"
	"github.com/linkpass/server/internal/repo"
	"github.com/linkpass/server/internal/secrets"
	"github.com/linkpass/server/internal/shortlink"
	"github.com/linkpass/server/internal/store"
)

const (
	testSigningKey    = "unit-test-signing-key"
	testUniversalBase = "https://links.example.com/redirect"
	testShortBase     = "https://lnk.example.com"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fakeUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]model.UserProfile
	touched map[uuid.UUID]time.Time
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byEmail: make(map[string]model.UserProfile),
		touched: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return model.UserProfile{}, repo.ErrNotFound
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return model.UserProfile{}, repo.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) Create(_ context.Context, profile model.UserProfile) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(profile.Email)
	if existing, ok := f.byEmail[key]; ok {
		return existing, nil
	}
	profile.Email = key
	profile.CreatedAt = time.Now().UTC()
	profile.UpdatedAt = profile.CreatedAt
	f.byEmail[key] = profile
	return profile, nil
}

func (f *fakeUserRepo) TouchLastActive(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	return nil
}

func (f *fakeUserRepo) put(u model.UserProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byEmail[strings.ToLower(u.Email)] = u
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail)
}

type fakeWhitelistRepo struct {
	mu        sync.Mutex
	entries   map[string]model.WhitelistEntry
	lookupErr error
}

func newFakeWhitelistRepo() *fakeWhitelistRepo {
	return &fakeWhitelistRepo{entries: make(map[string]model.WhitelistEntry)}
}

func (f *fakeWhitelistRepo) GetByEmail(_ context.Context, email string) (model.WhitelistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return model.WhitelistEntry{}, f.lookupErr
	}
	e, ok := f.entries[strings.ToLower(email)]
	if !ok {
		return model.WhitelistEntry{}, repo.ErrNotFound
	}
	return e, nil
}

func (f *fakeWhitelistRepo) StampRegistered(_ context.Context, email string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[strings.ToLower(email)]
	if !ok || e.RegisteredAt != nil {
		return nil
	}
	stamped := at
	e.RegisteredAt = &stamped
	f.entries[strings.ToLower(email)] = e
	return nil
}

func (f *fakeWhitelistRepo) put(e model.WhitelistEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[strings.ToLower(e.Email)] = e
}

func (f *fakeWhitelistRepo) remove(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, strings.ToLower(email))
}

func (f *fakeWhitelistRepo) get(email string) (model.WhitelistEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[strings.ToLower(email)]
	return e, ok
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	records []model.ActivityRecord
}

func (f *fakeActivityRepo) Record(_ context.Context, rec model.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeActivityRepo) byType(t model.ActivityType) []model.ActivityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ActivityRecord
	for _, r := range f.records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

type captureEmail struct {
	mu   sync.Mutex
	sent []notify.EmailMessage
	err  error
}

func (c *captureEmail) Send(_ context.Context, msg notify.EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type smsMessage struct {
	to   string
	text string
}

type captureSMS struct {
	mu   sync.Mutex
	sent []smsMessage
	err  error
}

func (c *captureSMS) Send(_ context.Context, toE164, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, smsMessage{to: toE164, text: text})
	return nil
}

type fixture struct {
	svc       *Service
	signer    *Signer
	users     *fakeUserRepo
	whitelist *fakeWhitelistRepo
	activity  *fakeActivityRepo
	email     *captureEmail
	sms       *captureSMS
	tokens    *store.TokenStore
	links     *shortlink.Service
	mr        *miniredis.Miniredis

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	keys := secrets.NewCache(secrets.Static{
		secrets.SessionSigningKey: testSigningKey,
		secrets.BackdoorSecret: `{"email_hash":"` + sha256Hex("open-sesame") +
			`","password_hash":"` + sha256Hex("mellon") + `"}`,
	})

	f := &fixture{
		signer:    NewSigner(keys),
		users:     newFakeUserRepo(),
		whitelist: newFakeWhitelistRepo(),
		activity:  &fakeActivityRepo{},
		email:     &captureEmail{},
		sms:       &captureSMS{},
		tokens:    store.NewTokenStore(rdb),
		links:     shortlink.NewService(rdb),
		mr:        mr,
		now:       time.Now().UTC().Truncate(time.Second),
	}

	f.svc = NewService(Deps{
		Users:            f.users,
		Whitelist:        f.whitelist,
		Activity:         f.activity,
		Tokens:           f.tokens,
		ShortLinks:       f.links,
		Email:            f.email,
		SMS:              f.sms,
		Signer:           f.signer,
		Keys:             keys,
		PrivilegedDomain: "sigmacomputing.com",
		Links: Links{
			AppScheme:     "linkpass://",
			UniversalBase: testUniversalBase,
			ShortBase:     testShortBase,
		},
	})
	f.svc.now = func() time.Time { return f.now }

	return f
}

// approve adds a live whitelist entry for the email.
func (f *fixture) approve(email string) {
	f.whitelist.put(model.WhitelistEntry{Email: strings.ToLower(email), Role: model.RoleBasic})
}

// issueLink requests an email magic link and returns the minted token id,
// pulled out of the delivered message.
func (f *fixture) issueLink(t *testing.T, email string) string {
	t.Helper()

	res, err := f.svc.RequestMagicLink(context.Background(), IssueRequest{Email: email})
	require.NoError(t, err)
	require.NotNil(t, res)

	f.email.mu.Lock()
	defer f.email.mu.Unlock()
	require.NotEmpty(t, f.email.sent)
	return tokenFromMessage(t, f.email.sent[len(f.email.sent)-1])
}

// tokenFromMessage extracts the token query parameter from the link embedded
// in the plain-text body.
func tokenFromMessage(t *testing.T, msg notify.EmailMessage) string {
	t.Helper()

	parts := strings.Split(msg.TextBody, "\n\n")
	require.GreaterOrEqual(t, len(parts), 2, "text body should contain the link on its own line")
	target, err := url.Parse(parts[1])
	require.NoError(t, err)
	token := target.Query().Get("token")
	require.NotEmpty(t, token, "link should carry a token parameter")
	return token
}
