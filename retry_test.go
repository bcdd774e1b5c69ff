package univibe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimitedGetRetriesAndSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryMax(2),
		WithInitialBackoff(10*time.Millisecond),
		WithJitter(0),
	)

	result, err := client.Get(context.Background(), "/forum/questions")
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after retries, got %d", result.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRateLimitedGetExhaustsBudget(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryMax(1),
		WithInitialBackoff(10*time.Millisecond),
		WithJitter(0),
	)

	_, err := client.Get(context.Background(), "/forum/questions")
	if err == nil {
		t.Fatal("expected RateLimited after budget exhaustion")
	}
	if !errors.Is(err, &ClassifiedError{Kind: KindRateLimited}) {
		t.Errorf("expected RateLimited, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected initial attempt + 1 retry, got %d", got)
	}
}

func TestRateLimitedMutationDoesNotRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithRetryMax(3))

	_, err := client.Post(context.Background(), "/forum/questions", map[string]string{"title": "x"})
	if !errors.Is(err, &ClassifiedError{Kind: KindRateLimited}) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("mutations must not replay without opt-in, saw %d calls", got)
	}
}

func TestRateLimitedMutationRetriesWithOptIn(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, createdBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithInitialBackoff(10*time.Millisecond),
		WithJitter(0),
	)

	_, err := client.Post(context.Background(), "/forum/questions",
		map[string]string{"title": "x"}, WithRetryOn429(1))
	if err != nil {
		t.Fatalf("expected opt-in retry to recover, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestOptInRetryReplaysStreamedBody(t *testing.T) {
	var calls int32
	bodies := make(chan []byte, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- data
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, createdBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithInitialBackoff(10*time.Millisecond),
		WithJitter(0),
	)

	body := &sliceReader{data: []byte("--binary--")}
	if _, err := client.Post(context.Background(), "/profile/avatar", body, WithRetryOn429(1)); err != nil {
		t.Fatalf("expected opt-in retry to recover, got %v", err)
	}

	first, second := <-bodies, <-bodies
	if string(first) != "--binary--" {
		t.Errorf("first attempt body: got %q", first)
	}
	if string(second) != "--binary--" {
		t.Errorf("retry must resend the streamed payload, got %q", second)
	}
}

func TestRateLimitHonorsRetryAfterHeader(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL,
		WithRetryMax(1),
		WithInitialBackoff(time.Millisecond),
		WithJitter(0),
	)

	start := time.Now()
	if _, err := client.Get(context.Background(), "/forum/questions"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("Retry-After should defer the retry, took %v", elapsed)
	}
}

func TestRetryBudgetFor(t *testing.T) {
	client := New(WithBaseURL("https://api.univibe.example"), WithRetryMax(2))

	if got := client.retryBudgetFor(http.MethodGet, requestOptions{retryOn429: -1}); got != 2 {
		t.Errorf("GET default budget: expected 2, got %d", got)
	}
	if got := client.retryBudgetFor(http.MethodPost, requestOptions{retryOn429: -1}); got != 0 {
		t.Errorf("POST default budget: expected 0, got %d", got)
	}
	if got := client.retryBudgetFor(http.MethodPost, requestOptions{retryOn429: 3}); got != 3 {
		t.Errorf("explicit budget: expected 3, got %d", got)
	}
}
