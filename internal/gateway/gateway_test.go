package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixelforge/pixelforge/internal/backoff"
)

// fakeProvider scripts a sequence of results for Complete.
type fakeProvider struct {
	name  string
	calls int
	fn    func(attempt int) (*Completion, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	f.calls++
	return f.fn(f.calls)
}

func (f *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan *Delta, error) {
	f.calls++
	if _, err := f.fn(f.calls); err != nil {
		return nil, err
	}
	ch := make(chan *Delta, 1)
	ch <- &Delta{Done: true, Completion: &Completion{}}
	close(ch)
	return ch, nil
}

func testGateway(p Provider) *Gateway {
	g := New(p, nil)
	g.policy = backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, Jitter: 0}
	return g
}

func TestCompleteSuccess(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return &Completion{Content: "hi"}, nil
	}}
	out, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	if err != nil || out.Content != "hi" {
		t.Fatalf("out=%v err=%v", out, err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d", p.calls)
	}
}

func TestRateLimitRetriedExactlyOnce(t *testing.T) {
	rateLimited := &ProviderError{Reason: ReasonRateLimit, Status: 429}
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return nil, rateLimited
	}}

	_, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	if !errors.Is(err, rateLimited) {
		t.Fatalf("err = %v", err)
	}
	// First call plus the single retry.
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
}

func TestRateLimitRecoversOnRetry(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(attempt int) (*Completion, error) {
		if attempt == 1 {
			return nil, &ProviderError{Reason: ReasonRateLimit, Status: 429}
		}
		return &Completion{Content: "ok"}, nil
	}}

	out, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	if err != nil || out.Content != "ok" {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestTransientRetriedWithBound(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return nil, &ProviderError{Reason: ReasonServerError, Status: 500}
	}}

	_, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Reason != ReasonServerError {
		t.Fatalf("err = %v", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return nil, &ProviderError{Reason: ReasonAuth, Status: 401}
	}}

	_, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Reason != ReasonAuth {
		t.Fatalf("err = %v", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
}

func TestUnclassifiedErrorGetsWrapped(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return nil, errors.New("weird failure")
	}}

	_, err := testGateway(p).Complete(context.Background(), &Request{Model: "m"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("got %T", err)
	}
	if perr.Reason != ReasonUnknown {
		t.Errorf("reason = %s", perr.Reason)
	}
}

func TestCancelledBeforeCall(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(int) (*Completion, error) {
		return &Completion{}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := testGateway(p).Complete(ctx, &Request{Model: "m"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if p.calls != 0 {
		t.Errorf("provider called after cancellation")
	}
}

func TestStreamRetriesEstablishment(t *testing.T) {
	p := &fakeProvider{name: "fake", fn: func(attempt int) (*Completion, error) {
		if attempt == 1 {
			return nil, &ProviderError{Reason: ReasonNetwork}
		}
		return &Completion{}, nil
	}}

	ch, err := testGateway(p).Stream(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	d := <-ch
	if !d.Done {
		t.Errorf("delta = %+v", d)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d", p.calls)
	}
}
