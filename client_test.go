package univibe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	questionListBody   = `{"status":"success","message":"ok","data":[{"id":1,"title":"first"}],"requestId":"req-1","pagination":{"page":1,"limit":20,"total":1,"totalPages":1}}`
	questionDetailBody = `{"status":"success","message":"ok","data":{"id":42,"title":"detail"},"requestId":"req-2"}`
	createdBody        = `{"status":"success","message":"created","data":{"id":99},"requestId":"req-3"}`
)

func newTestClient(t *testing.T, serverURL string, opts ...Option) *Client {
	t.Helper()
	options := append([]Option{WithBaseURL(serverURL)}, opts...)
	client := New(options...)
	if !client.IsValid() {
		t.Fatalf("invalid client configuration: %v", client.ValidationError())
	}
	return client
}

func TestNewDefaults(t *testing.T) {
	client := New(WithBaseURL("https://api.univibe.example"))

	if client == nil {
		t.Fatal("New() returned nil")
	}
	if client.cacheTTL != 30*time.Second {
		t.Errorf("expected cacheTTL=30s, got %v", client.cacheTTL)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("expected timeout=30s, got %v", client.httpClient.Timeout)
	}
	if client.inflightWait != 10*time.Second {
		t.Errorf("expected inflightWait=10s, got %v", client.inflightWait)
	}
	if client.retryMax != 2 {
		t.Errorf("expected retryMax=2, got %d", client.retryMax)
	}
	if !client.IsValid() {
		t.Errorf("default configuration should validate: %v", client.ValidationError())
	}
}

func TestNewWithoutBaseURLIsInvalid(t *testing.T) {
	client := New()
	if client.IsValid() {
		t.Fatal("missing baseURL should fail validation")
	}
}

func TestGetReturnsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/forum/questions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("plain Get must not attach a credential")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.Get(context.Background(), "/forum/questions")
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}

	env, err := DecodeEnvelope[[]map[string]interface{}](result)
	if err != nil {
		t.Fatalf("DecodeEnvelope() returned error: %v", err)
	}
	if env.Status != "success" {
		t.Errorf("expected success envelope, got %q", env.Status)
	}
	if env.Pagination == nil || env.Pagination.Page != 1 {
		t.Errorf("expected pagination page 1, got %+v", env.Pagination)
	}
}

func TestGetServesSecondCallFromCache(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	first, err := client.Get(context.Background(), "/forum/questions?page=1")
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if first.FromCache {
		t.Error("first call cannot be a cache hit")
	}

	second, err := client.Get(context.Background(), "/forum/questions?page=1")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should be served from cache")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 network call, got %d", got)
	}
}

func TestCacheTTLExpiryTriggersFreshCall(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithCacheTTL(50*time.Millisecond))

	if _, err := client.Get(context.Background(), "/guides"); err != nil {
		t.Fatalf("first Get: %v", err)
	}

	// Within TTL: cached.
	result, err := client.Get(context.Background(), "/guides")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !result.FromCache {
		t.Error("read within TTL should be cached")
	}

	time.Sleep(70 * time.Millisecond)

	// Past TTL: fresh network call.
	result, err = client.Get(context.Background(), "/guides")
	if err != nil {
		t.Fatalf("third Get: %v", err)
	}
	if result.FromCache {
		t.Error("read past TTL should hit the network")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 network calls, got %d", got)
	}
}

func TestPerRequestTTLOverride(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithCacheTTL(time.Hour))

	if _, err := client.Get(context.Background(), "/guides", WithRequestTTL(30*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	result, err := client.Get(context.Background(), "/guides")
	if err != nil {
		t.Fatal(err)
	}
	if result.FromCache {
		t.Error("per-request TTL should have expired the entry")
	}
}

func TestConcurrentGetsShareOneNetworkCall(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Get(context.Background(), "/forum/questions?page=1&pageSize=20")
		}(i)
	}

	// Let all goroutines pile onto the in-flight entry before answering.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 network call, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i].Body) != questionListBody {
			t.Errorf("caller %d: unexpected body", i)
		}
	}
}

func TestWaiterIssuesFreshRequestWhenOwnerStalls(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(block) })
	defer unblock()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-block
		}
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithInflightWait(50*time.Millisecond))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = client.Get(context.Background(), "/forum/questions")
	}()

	// Let the owner register its in-flight entry and stall on the server.
	time.Sleep(20 * time.Millisecond)

	result, err := client.Get(context.Background(), "/forum/questions")
	if err != nil {
		t.Fatalf("abandoning waiter should get a fresh result, got %v", err)
	}
	if result.FromCache {
		t.Error("fresh request must hit the network")
	}
	if string(result.Body) != questionListBody {
		t.Errorf("unexpected body %q", result.Body)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("waiter past its wait bound must issue its own call, got %d", got)
	}

	unblock()
	wg.Wait()
}

func TestDeduplicationDisabled(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithDeduplication(false), WithoutCache())

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Get(context.Background(), "/forum/questions")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != callers {
		t.Errorf("with coalescing off each caller issues its own call, got %d", got)
	}
}

func TestConcurrentGetsShareError(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Get(context.Background(), "/broken")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 network call, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if !errors.Is(errs[i], &ClassifiedError{Kind: KindServerError}) {
			t.Errorf("caller %d: expected shared ServerError, got %v", i, errs[i])
		}
	}
}

func TestMutationInvalidatesCachedList(t *testing.T) {
	var listCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET":
			atomic.AddInt32(&listCalls, 1)
			fmt.Fprint(w, questionListBody)
		case r.Method == "POST":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, createdBody)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	client.SetToken("session-token")
	ctx := context.Background()

	if _, err := client.AuthGet(ctx, "/forum/questions?page=1&pageSize=20"); err != nil {
		t.Fatalf("AuthGet: %v", err)
	}

	if _, err := client.AuthPost(ctx, "/forum/questions", map[string]string{"title": "new"}); err != nil {
		t.Fatalf("AuthPost: %v", err)
	}

	result, err := client.AuthGet(ctx, "/forum/questions?page=1&pageSize=20")
	if err != nil {
		t.Fatalf("AuthGet after mutation: %v", err)
	}
	if result.FromCache {
		t.Error("GET after mutation must not serve the pre-mutation list")
	}
	if got := atomic.LoadInt32(&listCalls); got != 2 {
		t.Errorf("expected 2 list fetches, got %d", got)
	}
}

func TestAnswerMutationInvalidatesQuestionDetail(t *testing.T) {
	var detailCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/forum/questions/42":
			atomic.AddInt32(&detailCalls, 1)
			fmt.Fprint(w, questionDetailBody)
		case r.Method == "POST" && r.URL.Path == "/forum/questions/42/answers":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, createdBody)
		default:
			fmt.Fprint(w, questionListBody)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.Get(ctx, "/forum/questions/42"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Post(ctx, "/forum/questions/42/answers", map[string]string{"body": "an answer"}); err != nil {
		t.Fatal(err)
	}

	result, err := client.Get(ctx, "/forum/questions/42")
	if err != nil {
		t.Fatal(err)
	}
	if result.FromCache {
		t.Error("question detail must be refetched after answering")
	}
	if got := atomic.LoadInt32(&detailCalls); got != 2 {
		t.Errorf("expected 2 detail fetches, got %d", got)
	}
}

func TestForceRefreshBypassesCacheAndRepopulates(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"status":"success","message":"ok","data":%d,"requestId":"r"}`, atomic.LoadInt32(&calls))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.Get(ctx, "/courses"); err != nil {
		t.Fatal(err)
	}

	refreshed, err := client.ForceRefresh(ctx, "/courses")
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.FromCache {
		t.Error("ForceRefresh must hit the network")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 network calls, got %d", got)
	}

	// The refreshed payload replaced the cached one.
	cached, err := client.Get(ctx, "/courses")
	if err != nil {
		t.Fatal(err)
	}
	if !cached.FromCache {
		t.Error("ForceRefresh should repopulate the cache")
	}
	if string(cached.Body) != string(refreshed.Body) {
		t.Error("cache should hold the refreshed payload")
	}
}

func TestThrottleDelaysSecondCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithThrottleInterval(100*time.Millisecond))
	ctx := context.Background()

	if _, err := client.Get(ctx, "/forum/questions", WithNoCache()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := client.Get(ctx, "/forum/questions", WithNoCache()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second call should be delayed by the throttle, took %v", elapsed)
	}

	// A different key is not throttled.
	start = time.Now()
	if _, err := client.Get(ctx, "/guides", WithNoCache()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("distinct key should not be delayed, took %v", elapsed)
	}
}

func TestTimeoutClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, questionListBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithTimeout(50*time.Millisecond))

	_, err := client.Get(context.Background(), "/slow")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassifiedError, got %T", err)
	}
	if cerr.Kind != KindTimeout {
		t.Errorf("expected Timeout, got %s", cerr.Kind)
	}
	if cerr.HTTPStatus != 0 {
		t.Errorf("timeout must carry status 0, got %d", cerr.HTTPStatus)
	}
}

func TestNetworkFailureClassification(t *testing.T) {
	client := New(WithBaseURL("http://127.0.0.1:1"), WithTimeout(time.Second))

	_, err := client.Get(context.Background(), "/anything")
	if err == nil {
		t.Fatal("expected a network error")
	}
	if !errors.Is(err, &ClassifiedError{Kind: KindNetworkFailure}) {
		t.Errorf("expected NetworkFailure, got %v", err)
	}
}

func TestMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>unexpected</html>")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := GetAs[map[string]interface{}](context.Background(), client, "/weird")
	if err == nil {
		t.Fatal("expected a decode error")
	}
	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassifiedError, got %T", err)
	}
	if cerr.Kind != KindMalformedResponse {
		t.Errorf("expected MalformedResponse, got %s", cerr.Kind)
	}
	if cerr.HTTPStatus != 200 {
		t.Errorf("expected original status 200, got %d", cerr.HTTPStatus)
	}
}

func TestErrorEnvelopeOnSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","message":"search index rebuilding","requestId":"req-8"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := GetAs[[]string](context.Background(), client, "/search?q=exam")
	if err == nil {
		t.Fatal("expected an error from the error envelope")
	}
	var cerr *ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassifiedError, got %T", err)
	}
	if cerr.Message != "search index rebuilding" {
		t.Errorf("expected envelope message, got %q", cerr.Message)
	}
	if cerr.RequestID != "req-8" {
		t.Errorf("expected requestId from envelope, got %q", cerr.RequestID)
	}
}

func TestGetAsDecodesData(t *testing.T) {
	type question struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, questionDetailBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	q, err := GetAs[question](context.Background(), client, "/forum/questions/42")
	if err != nil {
		t.Fatalf("GetAs: %v", err)
	}
	if q.ID != 42 || q.Title != "detail" {
		t.Errorf("unexpected question %+v", q)
	}
}

func TestMultipartBodyPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			t.Errorf("reader bodies must not get a forced content type, got %q", ct)
		}
		fmt.Fprint(w, createdBody)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	body := &sliceReader{data: []byte("--binary--")}
	if _, err := client.Post(context.Background(), "/profile/avatar", body); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

// sliceReader is a bare io.Reader so the body cannot be mistaken for a
// serializable struct.
type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
