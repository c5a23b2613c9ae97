package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/friendpush/internal/graph"
	"github.com/nao1215/friendpush/internal/tokencache"
	"github.com/nao1215/friendpush/pkg/fcm"
	"github.com/nao1215/friendpush/pkg/googleauth"
	"github.com/nao1215/friendpush/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore はメモリ上のソーシャルグラフ。
// AcceptedConnectionsは状態に関係なく、userIDを含む行をそのまま返す。
type fakeStore struct {
	mu         sync.Mutex
	conns      []graph.Connection
	tokens     map[string][]string
	names      map[string]string
	connErr    error
	tokenErr   error
	tokenCalls int
}

func (f *fakeStore) AcceptedConnections(_ context.Context, userID string) ([]graph.Connection, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	var out []graph.Connection
	for _, c := range f.conns {
		if c.FromUserID == userID || c.ToUserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeviceTokens(_ context.Context, userIDs []string) ([]graph.DeviceToken, error) {
	f.mu.Lock()
	f.tokenCalls++
	f.mu.Unlock()
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	var out []graph.DeviceToken
	for _, id := range userIDs {
		for _, tok := range f.tokens[id] {
			out = append(out, graph.DeviceToken{UserID: id, Token: tok})
		}
	}
	return out, nil
}

func (f *fakeStore) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", graph.ErrProfileNotFound
	}
	return name, nil
}

func (f *fakeStore) tokenQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func accepted(from, to string) graph.Connection {
	return graph.Connection{FromUserID: from, ToUserID: to, Status: graph.StatusAccepted}
}

// scenarioStore はU1がU2・U3と友達で、U2だけがトークンを持つグラフを返す。
func scenarioStore() *fakeStore {
	return &fakeStore{
		conns: []graph.Connection{
			accepted("U1", "U2"),
			accepted("U3", "U1"),
		},
		tokens: map[string][]string{"U2": {"tok-2"}},
		names:  map[string]string{"U1": "Alice"},
	}
}

// fakeSender は配信を記録するSender。
type fakeSender struct {
	mu           sync.Mutex
	messages     []fcm.Message
	accessTokens []string
	// fail はトークンごとに毎回返すエラー。
	fail map[string]error
	// failOnce はトークンごとに最初の1回だけ返すエラー。
	failOnce map[string]error
	// delay は応答までの待ち時間。ctxの終了が優先される。
	delay time.Duration
	// panicOn はパニックさせるトークン。
	panicOn string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *fakeSender) Send(ctx context.Context, accessToken string, msg fcm.Message) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.accessTokens = append(s.accessTokens, accessToken)
	var err error
	if e, ok := s.failOnce[msg.Token]; ok {
		err = e
		delete(s.failOnce, msg.Token)
	} else if e, ok := s.fail[msg.Token]; ok {
		err = e
	}
	s.mu.Unlock()

	if msg.Token == s.panicOn {
		panic("sender exploded")
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if err != nil {
		return "", err
	}
	return "projects/flow/messages/" + msg.Token, nil
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeMinter は固定のトークンまたはエラーを返すMinter。
type fakeMinter struct {
	token string
	err   error
	calls atomic.Int32
}

func (m *fakeMinter) Mint(_ context.Context) (googleauth.AccessToken, error) {
	m.calls.Add(1)
	if m.err != nil {
		return googleauth.AccessToken{}, m.err
	}
	return googleauth.AccessToken{Token: m.token, Expiry: time.Now().Add(time.Hour)}, nil
}

// failingSuppressor は常にエラーを返すSuppressor。
type failingSuppressor struct{ err error }

func (f failingSuppressor) Suppressed(context.Context, []string) (map[string]bool, error) {
	return nil, f.err
}

func (f failingSuppressor) Suppress(context.Context, ...string) error { return f.err }

var _ Suppressor = (*tokencache.MemoryCache)(nil)

// newTestPipeline はテスト用のパイプラインを組み立てる。
func newTestPipeline(store graph.Store, minter Minter, sender Sender, mods ...func(*PipelineConfig)) *Pipeline {
	cfg := PipelineConfig{
		Store:           store,
		Minter:          minter,
		Sender:          sender,
		Template:        DefaultTemplate(),
		Concurrency:     8,
		DeliveryTimeout: time.Second,
		Log:             logger.Discard(),
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	p := NewPipeline(cfg)
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}
