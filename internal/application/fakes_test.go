package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- credential store ---

type fakeCredentialStore struct {
	mu      sync.Mutex
	creds   map[string]model.Credential
	loads   int
	saves   int
	loadErr error
	saveErr error
}

func newFakeCredentialStore(creds ...model.Credential) *fakeCredentialStore {
	s := &fakeCredentialStore{creds: make(map[string]model.Credential)}
	for _, c := range creds {
		s.creds[c.ShopDomain] = c
	}
	return s
}

func (s *fakeCredentialStore) Save(_ context.Context, cred model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.creds[cred.ShopDomain] = cred
	return nil
}

func (s *fakeCredentialStore) Load(_ context.Context, shop string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	c, ok := s.creds[shop]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// --- metafield client ---

type setCall struct {
	shop  string
	field model.Metafield
}

// fakeMetafields stores values per shop and ref. failSet makes the write to
// a given "namespace.key" fail; failGet makes every read fail.
type fakeMetafields struct {
	mu      sync.Mutex
	values  map[string]string
	gets    int
	tokens  []string
	sets    []setCall
	failGet error
	failSet map[string]error
	// beforeGet runs outside the lock on every GetField; used to interleave
	// concurrent submissions.
	beforeGet func()
}

func newFakeMetafields() *fakeMetafields {
	return &fakeMetafields{values: make(map[string]string), failSet: make(map[string]error)}
}

func fieldKey(shop string, ref model.MetafieldRef) string {
	return shop + "|" + ref.String()
}

func (f *fakeMetafields) put(shop string, ref model.MetafieldRef, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[fieldKey(shop, ref)] = value
}

func (f *fakeMetafields) get(shop string, ref model.MetafieldRef) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[fieldKey(shop, ref)]
	return v, ok
}

func (f *fakeMetafields) calls() (gets, sets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, len(f.sets)
}

func (f *fakeMetafields) GetField(_ context.Context, cred model.Credential, ref model.MetafieldRef) (string, bool, error) {
	if f.beforeGet != nil {
		f.beforeGet()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	f.tokens = append(f.tokens, cred.AccessToken)
	if f.failGet != nil {
		return "", false, f.failGet
	}
	v, ok := f.values[fieldKey(cred.ShopDomain, ref)]
	return v, ok, nil
}

func (f *fakeMetafields) SetField(_ context.Context, cred model.Credential, field model.Metafield) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{shop: cred.ShopDomain, field: field})
	if err := f.failSet[field.Ref.Namespace+"."+field.Ref.Key]; err != nil {
		return err
	}
	f.values[fieldKey(cred.ShopDomain, field.Ref)] = field.Value
	return nil
}

// --- rating metrics ---

type fakeRatingMetrics struct {
	mu         sync.Mutex
	outcomes   map[string]int
	corrupt    int
	writeBacks int
}

func newFakeRatingMetrics() *fakeRatingMetrics {
	return &fakeRatingMetrics{outcomes: make(map[string]int)}
}

func (m *fakeRatingMetrics) SubmissionRecorded(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *fakeRatingMetrics) CorruptHistoryDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt++
}

func (m *fakeRatingMetrics) WriteBackFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeBacks++
}

// --- oauth ---

type fakeOAuthProvider struct {
	verifyErr   error
	exchangeErr error
	token       string
	exchanged   []string
}

func (p *fakeOAuthProvider) AuthorizeURL(shop, state string) string {
	return "https://" + shop + "/admin/oauth/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeOAuthProvider) Exchange(_ context.Context, shop, code string) (model.Credential, error) {
	p.exchanged = append(p.exchanged, code)
	if p.exchangeErr != nil {
		return model.Credential{}, p.exchangeErr
	}
	return model.Credential{ShopDomain: shop, AccessToken: p.token, Scope: "read_products,write_products", UpdatedAt: time.Now()}, nil
}

func (p *fakeOAuthProvider) VerifyCallback(_ url.Values) error {
	return p.verifyErr
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]model.OAuthState
	putErr error
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]model.OAuthState)}
}

func (s *fakeStateStore) Put(_ context.Context, state model.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.states[state.Nonce] = state
	return nil
}

func (s *fakeStateStore) Consume(_ context.Context, shop, nonce string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[nonce]
	if !ok || st.ShopDomain != shop || !now.Before(st.ExpiresAt) {
		return false, nil
	}
	delete(s.states, nonce)
	return true, nil
}

var errBoom = errors.New("boom")
