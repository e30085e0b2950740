package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/promptd/promptd/internal/domain"
	"github.com/promptd/promptd/internal/keypool"
	"github.com/promptd/promptd/internal/provider"
)

// fakeClient scripts one response per call and records the credential used.
type fakeClient struct {
	requiresCred bool
	responses    []fakeResponse
	calls        []string // credentials in call order
}

type fakeResponse struct {
	turn domain.Turn
	err  error
}

func (f *fakeClient) Name() string             { return "fake" }
func (f *fakeClient) Model() string            { return "fake-model" }
func (f *fakeClient) RequiresCredential() bool { return f.requiresCred }
func (f *fakeClient) History() []domain.Turn   { return nil }

func (f *fakeClient) SendTurn(_ context.Context, _ []domain.Turn, _ string, credential string) (domain.Turn, error) {
	f.calls = append(f.calls, credential)
	if len(f.responses) == 0 {
		return domain.Turn{}, &provider.Error{Kind: provider.KindFatal, Provider: "fake", Message: "script exhausted"}
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.turn, resp.err
}

func rateLimited() error {
	return &provider.Error{Kind: provider.KindRateLimited, Provider: "fake", StatusCode: 429, Message: "rate limited"}
}

func transient() error {
	return &provider.Error{Kind: provider.KindTransient, Provider: "fake", StatusCode: 503, Message: "upstream flake"}
}

func fixedStart(i int) keypool.Option {
	return keypool.WithRandIndex(func(int) int { return i })
}

func repeat(err error, n int) []fakeResponse {
	out := make([]fakeResponse, n)
	for i := range out {
		out[i] = fakeResponse{err: err}
	}
	return out
}

func TestRotationClosesCycleForAllPoolSizesAndStarts(t *testing.T) {
	t.Parallel()

	raws := []string{"k1", "k1|k2", "k1|k2|k3", "k1|k2|k3|k4"}
	for size, raw := range raws {
		n := size + 1
		for start := 0; start < n; start++ {
			pool := keypool.Load(raw, fixedStart(start))
			client := &fakeClient{requiresCred: true, responses: repeat(rateLimited(), n)}
			d := New(pool, WithTransientRetries(0))

			_, err := d.Send(context.Background(), client, nil, "hi", "")
			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) {
				t.Fatalf("size %d start %d: expected ExhaustedError, got %v", n, start, err)
			}
			if exhausted.Attempts != n || exhausted.PoolSize != n {
				t.Errorf("size %d start %d: got attempts=%d pool=%d", n, start, exhausted.Attempts, exhausted.PoolSize)
			}
			if len(client.calls) != n {
				t.Fatalf("size %d start %d: %d calls, want %d", n, start, len(client.calls), n)
			}
			distinct := map[string]bool{}
			for _, c := range client.calls {
				distinct[c] = true
			}
			if len(distinct) != n {
				t.Errorf("size %d start %d: rotation used %d distinct credentials, want %d", n, start, len(distinct), n)
			}
		}
	}
}

func TestSuccessAfterRateLimitRotation(t *testing.T) {
	t.Parallel()

	pool := keypool.Load("k1|k2", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{
		{err: rateLimited()},
		{turn: domain.Turn{Role: domain.RoleAssistant, Content: "hello"}},
	}}
	d := New(pool)

	res, err := d.Send(context.Background(), client, nil, "hi", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Reply.Content != "hello" {
		t.Errorf("reply = %q, want hello", res.Reply.Content)
	}
	if res.Attempts != 2 || res.PoolSize != 2 {
		t.Errorf("attempts=%d pool=%d, want 2/2", res.Attempts, res.PoolSize)
	}
	if res.Credential != "k2" {
		t.Errorf("succeeding credential = %q, want k2", res.Credential)
	}
	if len(client.calls) != 2 || client.calls[0] != "k1" || client.calls[1] != "k2" {
		t.Errorf("call order = %v, want [k1 k2]", client.calls)
	}
}

func TestSingleKeyRateLimitExhaustsImmediately(t *testing.T) {
	t.Parallel()

	pool := keypool.Load("k1", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: repeat(rateLimited(), 1)}
	d := New(pool)

	_, err := d.Send(context.Background(), client, nil, "hi", "")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 1 || exhausted.PoolSize != 1 {
		t.Errorf("got attempts=%d pool=%d, want 1/1", exhausted.Attempts, exhausted.PoolSize)
	}
}

func TestAuthFailureAbortsWithoutRotation(t *testing.T) {
	t.Parallel()

	authErr := &provider.Error{Kind: provider.KindAuthFailure, Provider: "fake", StatusCode: 401, Message: "bad key"}
	pool := keypool.Load("k1|k2|k3", fixedStart(1))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{
		{err: rateLimited()},
		{err: authErr},
	}}
	d := New(pool)

	_, err := d.Send(context.Background(), client, nil, "hi", "")
	if !provider.IsAuthFailure(err) {
		t.Fatalf("expected the auth failure surfaced unchanged, got %v", err)
	}
	if len(client.calls) != 2 {
		t.Errorf("expected abort after 2 calls, got %d", len(client.calls))
	}
}

func TestFatalErrorAbortsImmediately(t *testing.T) {
	t.Parallel()

	fatal := &provider.Error{Kind: provider.KindFatal, Provider: "fake", StatusCode: 400, Message: "bad request"}
	pool := keypool.Load("k1|k2|k3", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{{err: fatal}}}
	d := New(pool)

	_, err := d.Send(context.Background(), client, nil, "hi", "")
	if !provider.IsFatal(err) {
		t.Fatalf("expected fatal error unchanged, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("expected exactly 1 call, got %d", len(client.calls))
	}
}

func TestTransientRetriesSameCredentialThenRotates(t *testing.T) {
	t.Parallel()

	pool := keypool.Load("k1|k2", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{
		{err: transient()},
		{err: transient()},
		{err: transient()}, // k1 exhausted its 2 same-credential retries
		{turn: domain.Turn{Role: domain.RoleAssistant, Content: "ok"}},
	}}
	d := New(pool)

	res, err := d.Send(context.Background(), client, nil, "hi", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	want := []string{"k1", "k1", "k1", "k2"}
	if len(client.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", client.calls, want)
	}
	for i, w := range want {
		if client.calls[i] != w {
			t.Fatalf("calls = %v, want %v", client.calls, want)
		}
	}
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", res.Attempts)
	}
}

func TestPreferredFingerprintBiasesStart(t *testing.T) {
	t.Parallel()

	pool := keypool.Load("k1|k2|k3", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{
		{turn: domain.Turn{Role: domain.RoleAssistant, Content: "ok"}},
	}}
	d := New(pool)

	fp := keypool.Credential("k3").Fingerprint()
	res, err := d.Send(context.Background(), client, nil, "hi", fp)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Credential != "k3" {
		t.Errorf("start credential = %q, want preferred k3", res.Credential)
	}
}

func TestEmptyPoolWithCredentialedProvider(t *testing.T) {
	t.Parallel()

	pool := keypool.Load("")
	client := &fakeClient{requiresCred: true}
	d := New(pool)

	_, err := d.Send(context.Background(), client, nil, "hi", "")
	if !errors.Is(err, keypool.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("no call should be made without credentials, got %d", len(client.calls))
	}
}

func TestUnauthenticatedProviderSkipsPool(t *testing.T) {
	t.Parallel()

	client := &fakeClient{requiresCred: false, responses: []fakeResponse{
		{turn: domain.Turn{Role: domain.RoleAssistant, Content: "local"}},
	}}
	d := New(keypool.Load(""))

	res, err := d.Send(context.Background(), client, nil, "hi", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Reply.Content != "local" || res.Attempts != 1 || res.PoolSize != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Credential != "" {
		t.Errorf("no credential should be recorded, got %q", res.Credential)
	}
}

func TestRetryObserverSeesRateLimitedAttempts(t *testing.T) {
	t.Parallel()

	var observed [][2]int
	pool := keypool.Load("k1|k2|k3", fixedStart(0))
	client := &fakeClient{requiresCred: true, responses: []fakeResponse{
		{err: rateLimited()},
		{err: rateLimited()},
		{turn: domain.Turn{Role: domain.RoleAssistant, Content: "ok"}},
	}}
	d := New(pool, WithRetryObserver(func(attempts, poolSize int) {
		observed = append(observed, [2]int{attempts, poolSize})
	}))

	if _, err := d.Send(context.Background(), client, nil, "hi", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(observed) != 2 {
		t.Fatalf("observer fired %d times, want 2", len(observed))
	}
	if observed[0] != [2]int{1, 3} || observed[1] != [2]int{2, 3} {
		t.Errorf("observed = %v, want [[1 3] [2 3]]", observed)
	}
}

func TestCancellationStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := keypool.Load("k1", fixedStart(0))
	client := &fakeClient{requiresCred: true}
	d := New(pool)

	_, err := d.Send(ctx, client, nil, "hi", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("no call should be made after cancellation, got %d", len(client.calls))
	}
}
