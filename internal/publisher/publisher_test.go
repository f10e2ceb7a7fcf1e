package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/retry"
)

const sampleSummary = `## Highlights

Both accounts discussed **release planning**.

### TL;DR
- one
- two
- three
- four
- five
`

func sampleDigest(t *testing.T) *Digest {
	t.Helper()
	d, err := NewDigest("Social Digest Summary", 24*time.Hour, []string{"alice", "bob"}, sampleSummary,
		WithDate(time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return d
}

func fastDiscord(url string, client *http.Client) *DiscordPublisher {
	return &DiscordPublisher{
		webhookURL:  url,
		client:      client,
		retryConfig: retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond},
	}
}

func TestNewDigest(t *testing.T) {
	d := sampleDigest(t)

	assert.Equal(t, "Social Digest Summary", d.Subject)
	assert.Equal(t, []string{"alice", "bob"}, d.Accounts)
	assert.Equal(t, sampleSummary, d.Summary)
	assert.Contains(t, d.HTML, "<h1>Social Digest Summary</h1>")
	assert.Contains(t, d.HTML, "<h2>Timeframe: 24 hours</h2>")
	assert.Contains(t, d.HTML, `<a href="https://x.com/alice">alice</a>, <a href="https://x.com/bob">bob</a>`)
	assert.Contains(t, d.HTML, "<strong>release planning</strong>")
	assert.Contains(t, d.HTML, "<li>five</li>")
	assert.Contains(t, d.HTML, `<div class="summary">`)
}

func TestNewDigestOptions(t *testing.T) {
	d, err := NewDigest("<b>Digest</b>", 90*time.Minute, []string{"carol"}, "text",
		WithProfileURL("https://social.example/@%s"))
	require.NoError(t, err)

	assert.Contains(t, d.HTML, "<h1>&lt;b&gt;Digest&lt;/b&gt;</h1>")
	assert.Contains(t, d.HTML, "Timeframe: 1.5 hours")
	assert.Contains(t, d.HTML, `href="https://social.example/@carol"`)
	assert.WithinDuration(t, time.Now(), d.Date, time.Minute)
}

func TestNewDigestCopiesAccounts(t *testing.T) {
	accounts := []string{"alice"}
	d, err := NewDigest("s", time.Hour, accounts, "text")
	require.NoError(t, err)
	accounts[0] = "mallory"
	assert.Equal(t, []string{"alice"}, d.Accounts)
}

func TestStdoutPublish(t *testing.T) {
	var buf bytes.Buffer
	pub := &StdoutPublisher{out: &buf}

	require.NoError(t, pub.Publish(context.Background(), sampleDigest(t)))

	output := buf.String()
	for _, want := range []string{
		"Social Digest Summary",
		"Date: 2025-01-15 08:00",
		"Timeframe: 24 hours",
		"Accounts: alice, bob",
		"**release planning**",
	} {
		assert.Contains(t, output, want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStdoutPublishWriteError(t *testing.T) {
	pub := &StdoutPublisher{out: failingWriter{}}
	err := pub.Publish(context.Background(), sampleDigest(t))
	require.ErrorIs(t, err, ErrDelivery)
}

func TestEmailPublish(t *testing.T) {
	pub := NewEmailPublisher("smtp.example.com", 587, "user", "pass", "digest@example.com",
		[]string{"a@example.com", "b@example.com"})

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	pub.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	require.NoError(t, pub.Publish(context.Background(), sampleDigest(t)))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "digest@example.com", gotFrom)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: digest@example.com\r\n")
	assert.Contains(t, gotMsg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, gotMsg, "Subject: Social Digest Summary\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n<!DOCTYPE html>")
	assert.Contains(t, gotMsg, "Timeframe: 24 hours")
}

func TestEmailPublishWithoutAuth(t *testing.T) {
	pub := NewEmailPublisher("localhost", 25, "", "", "digest@example.com", []string{"a@example.com"})
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	pub.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	}

	require.NoError(t, pub.Publish(context.Background(), sampleDigest(t)))
	assert.Nil(t, gotAuth)
}

func TestEmailPublishFailure(t *testing.T) {
	pub := NewEmailPublisher("smtp.example.com", 587, "user", "pass", "digest@example.com", []string{"a@example.com"})
	pub.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 authentication failed")
	}

	err := pub.Publish(context.Background(), sampleDigest(t))
	require.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "535 authentication failed")
}

func TestEmailNonASCIISubject(t *testing.T) {
	d, err := NewDigest("Résumé du jour", time.Hour, nil, "x")
	require.NoError(t, err)
	msg := string(buildMessage("a@example.com", []string{"b@example.com"}, d))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{name: "short string unchanged", input: "hello", limit: 10, want: "hello"},
		{name: "exact length unchanged", input: "hello", limit: 5, want: "hello"},
		{
			name:  "truncation prefers sentence boundary",
			input: "A long enough first sentence. The rest is extra padding text here.",
			limit: 40,
			want:  "A long enough first sentence.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.limit))
		})
	}
}

func TestTruncateEllipsis(t *testing.T) {
	result := truncate("This is a very long string that should be truncated", 20)
	assert.LessOrEqual(t, len(result), 20)
	assert.True(t, strings.HasSuffix(result, "…"))
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	result := truncate(strings.Repeat("日本語", 20), 16)
	assert.LessOrEqual(t, len(result), 16)
	assert.True(t, strings.HasSuffix(result, "…"))
	assert.NotContains(t, result, "�")
}

func TestSplitChunks(t *testing.T) {
	assert.Empty(t, splitChunks("   ", 10))
	assert.Equal(t, []string{"short"}, splitChunks("short", 10))

	para := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	assert.Equal(t, []string{strings.Repeat("a", 30), strings.Repeat("b", 30)}, splitChunks(para, 40))

	noBreaks := strings.Repeat("x", 25)
	chunks := splitChunks(noBreaks, 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestSplitChunksLimit(t *testing.T) {
	long := strings.Repeat("word ", 3000)
	chunks := splitChunks(long, maxEmbedDescription)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxEmbedDescription)
	}
	assert.Equal(t, strings.Fields(long), strings.Fields(strings.Join(chunks, " ")))
}

func TestEmbedCharCount(t *testing.T) {
	e := discordEmbed{
		Title:       "Title",       // 5
		Description: "Description", // 11
		Fields: []discordEmbedField{
			{Name: "Field", Value: "Value"}, // 5 + 5 = 10
		},
		Footer: &discordEmbedFooter{Text: "Footer"}, // 6
	}
	assert.Equal(t, 5+11+5+5+6, embedCharCount(e))
	assert.Equal(t, 9, embedCharCount(discordEmbed{Title: "Title", Description: "Desc"}))
}

func TestBatchEmbeds(t *testing.T) {
	small := func(n int) []discordEmbed {
		embeds := make([]discordEmbed, n)
		for i := range embeds {
			embeds[i] = discordEmbed{Title: "T"}
		}
		return embeds
	}

	batches := batchEmbeds(small(5))
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 5)

	batches = batchEmbeds(small(12))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 2)
}

func TestBatchEmbedsCharLimit(t *testing.T) {
	// 3 embeds of 2000 chars fill a message; the 4th starts a new batch.
	embeds := make([]discordEmbed, 4)
	for i := range embeds {
		embeds[i] = discordEmbed{Description: strings.Repeat("x", 2000)}
	}

	batches := batchEmbeds(embeds)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 1)
}

func TestBuildEmbedsLongSummary(t *testing.T) {
	d, err := NewDigest("Digest", 24*time.Hour, []string{"alice"}, strings.Repeat("A sentence here. ", 600))
	require.NoError(t, err)

	embeds := buildEmbeds(d)
	require.Greater(t, len(embeds), 1)
	assert.Equal(t, "Digest", embeds[0].Title)
	require.Len(t, embeds[0].Fields, 2)
	assert.Equal(t, "24 hours", embeds[0].Fields[0].Value)
	assert.Equal(t, "alice", embeds[0].Fields[1].Value)
	for _, e := range embeds[1:] {
		assert.Empty(t, e.Title)
		assert.LessOrEqual(t, len(e.Description), maxEmbedDescription)
	}
}

func TestDiscordPublishWithMockWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []discordWebhookPayload
	)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var payload discordWebhookPayload
		assert.NoError(t, json.Unmarshal(body, &payload))
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	require.NoError(t, fastDiscord(ts.URL, ts.Client()).Publish(context.Background(), sampleDigest(t)))

	require.Len(t, payloads, 1)
	require.Len(t, payloads[0].Embeds, 1)
	embed := payloads[0].Embeds[0]
	assert.Equal(t, "Social Digest Summary", embed.Title)
	assert.Contains(t, embed.Description, "release planning")
	assert.Equal(t, "2025-01-15T08:00:00Z", embed.Timestamp)
}

func TestDiscordPublishWebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	err := fastDiscord(ts.URL, ts.Client()).Publish(context.Background(), sampleDigest(t))
	require.ErrorIs(t, err, ErrDelivery)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")
}

func TestDiscordPublishRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	require.NoError(t, fastDiscord(ts.URL, ts.Client()).Publish(context.Background(), sampleDigest(t)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebPublisherRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "digest_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	wp := NewWebPublisher("127.0.0.1:0", reg, logger.NewNop())
	ts := httptest.NewServer(wp.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "No digest available yet")

	code, body = get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","last_digest":null,"accounts":0}`, body)

	require.NoError(t, wp.Publish(context.Background(), sampleDigest(t)))

	_, body = get("/")
	assert.Contains(t, body, "<h1>Social Digest Summary</h1>")

	_, body = get("/healthz")
	assert.JSONEq(t, `{"status":"ok","last_digest":"2025-01-15T08:00:00Z","accounts":2}`, body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "digest_test_total 1")

	code, _ = get("/missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebPublisherWithoutMetrics(t *testing.T) {
	wp := NewWebPublisher("127.0.0.1:0", nil, logger.NewNop())
	rec := httptest.NewRecorder()
	wp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebPublisherStartShutdown(t *testing.T) {
	wp := NewWebPublisher("127.0.0.1:0", nil, logger.NewNop())
	require.NoError(t, wp.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wp.Shutdown(ctx))
}
