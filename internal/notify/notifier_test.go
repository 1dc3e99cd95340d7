package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

type captureSender struct {
	titles []string
	bodies []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishFiltersKinds(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, []string{"pool_paused", " swapped "}, quiet())

	err := n.Publish(context.Background(), []domain.Event{
		{Kind: domain.EventDeposited, At: time.Unix(0, 0).UTC()},
		{Kind: domain.EventSwapped, At: time.Unix(0, 0).UTC(), Attrs: map[string]string{"pool_id": "3", "amount_out": "10"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"dcad: swapped"}, s.titles)
	assert.Equal(t, "at=1970-01-01T00:00:00Z\namount_out=10\npool_id=3", s.bodies[0])
}

func TestPublishReportsSenderFailure(t *testing.T) {
	s := &captureSender{err: errors.New("rate limited")}
	n := NewNotifier([]Sender{s}, nil, quiet())

	err := n.Publish(context.Background(), []domain.Event{{Kind: domain.EventPoolPaused}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestWebhookSenderPosts(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL).Send(context.Background(), "t", "m"))
	assert.Equal(t, "**t**\nm", got["content"])
}

func TestTelegramSenderSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
