package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outbound/core"
)

func TestHTTPSender_PostsBodyAndHeaders(t *testing.T) {
	var (
		gotMethod string
		gotBody   string
		gotSig    string
		gotType   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	sender := NewHTTPSender(server.Client())
	res, err := sender.Send(context.Background(), core.DeliveryRequest{
		URL:     server.URL,
		Body:    []byte(`{"a":1}`),
		Headers: map[string]string{"X-Signature": "abc"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success() || res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.StatusCode)
	}
	if string(res.Body) != "ok" {
		t.Fatalf("expected response body ok, got %q", res.Body)
	}
	if gotMethod != http.MethodPost || gotBody != `{"a":1}` || gotSig != "abc" {
		t.Fatalf("unexpected request method=%s body=%s sig=%s", gotMethod, gotBody, gotSig)
	}
	if gotType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotType)
	}
}

func TestHTTPSender_NonSuccessIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	sender := NewHTTPSender(server.Client())
	sender.MaxResponseBodyBytes = 10
	res, err := sender.Send(context.Background(), core.DeliveryRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Success() {
		t.Fatalf("expected non-success response")
	}
	if len(res.Body) != 10 {
		t.Fatalf("expected body truncated to 10 bytes, got %d", len(res.Body))
	}

	statusErr := StatusError(server.URL, res)
	if !core.IsErrorCode(statusErr, core.ErrorDeliveryFailed) {
		t.Fatalf("expected delivery failed code, got %v", statusErr)
	}
}

func TestHTTPSender_RejectsRelativeURL(t *testing.T) {
	_, err := NewHTTPSender(nil).Send(context.Background(), core.DeliveryRequest{URL: "/hooks"})
	if err == nil {
		t.Fatalf("expected relative url to be rejected")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input envelope, got %q/%q", rich.Category, rich.TextCode)
	}
}

func TestHTTPSender_NetworkErrorIsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := server.URL
	server.Close()

	_, err := NewHTTPSender(nil).Send(context.Background(), core.DeliveryRequest{URL: target})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected external 502 envelope, got %q/%d", rich.Category, rich.Code)
	}
}

func TestHTTPSender_NilClientReturnsRichError(t *testing.T) {
	var sender *HTTPSender
	_, err := sender.Send(context.Background(), core.DeliveryRequest{URL: "https://x.test"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected internal text code, got %q", rich.TextCode)
	}
}

func TestHTTPSender_RedirectIsReportedNotFollowed(t *testing.T) {
	var landed int
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST on hook, got %s", r.Method)
		}
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, _ *http.Request) {
		landed++
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := NewHTTPSender(nil)
	res, err := sender.Send(context.Background(), core.DeliveryRequest{
		URL:  server.URL + "/hook",
		Body: []byte(`{"id":"o1"}`),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.StatusCode != http.StatusFound {
		t.Fatalf("expected 302 to be returned, got %d", res.StatusCode)
	}
	if res.Success() {
		t.Fatalf("expected redirect to count as a failed delivery")
	}
	if landed != 0 {
		t.Fatalf("expected redirect target to stay untouched, got %d hits", landed)
	}
}

type endlessBody struct {
	read   int64
	closed bool
}

func (b *endlessBody) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	b.read += int64(len(p))
	return len(p), nil
}

func (b *endlessBody) Close() error {
	b.closed = true
	return nil
}

type stubDoer struct {
	res *http.Response
}

func (d stubDoer) Do(*http.Request) (*http.Response, error) {
	return d.res, nil
}

func TestHTTPSender_StopsReadingAtBodyLimit(t *testing.T) {
	body := &endlessBody{}
	sender := NewHTTPSender(stubDoer{res: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       body,
	}})
	sender.MaxResponseBodyBytes = 1024

	res, err := sender.Send(context.Background(), core.DeliveryRequest{URL: "https://hooks.test/a"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(res.Body) != 1024 {
		t.Fatalf("expected body truncated to 1024 bytes, got %d", len(res.Body))
	}
	if body.read > 64<<10 {
		t.Fatalf("expected the sender to stop reading near the limit, read %d bytes", body.read)
	}
	if !body.closed {
		t.Fatalf("expected response body to be closed")
	}
}
