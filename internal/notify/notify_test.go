package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"signflow/backend/internal/logging"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func invitation() Message {
	return Message{
		Kind:        KindInvitation,
		WorkflowID:  "wf-1",
		RecipientID: "r-1",
		Email:       "bob@example.com",
		Link:        "https://sign.example.com/sign/r-1?token=abc",
		ValidUntil:  time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
	}
}

func TestHTTPNotifier_PostsJSON(t *testing.T) {
	var got Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewHTTPNotifier(server.URL+"/", nil)
	require.NoError(t, n.Send(context.Background(), invitation()))
	assert.Equal(t, invitation(), got)
}

func TestHTTPNotifier_ReportsRelayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewHTTPNotifier(server.URL, server.Client()).Send(context.Background(), invitation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogNotifier_WritesEntry(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logging.NewLoggerWithLevel(&buf, "info"))

	require.NoError(t, n.Send(context.Background(), invitation()))
	assert.Contains(t, buf.String(), `"recipient_id":"r-1"`)
	assert.Contains(t, buf.String(), `"kind":"invitation"`)
}

func TestRateLimited_DelegatesWithinBurst(t *testing.T) {
	next := new(mockNotifier)
	next.On("Send", mock.Anything, mock.Anything).Return(nil).Times(3)

	n := NewRateLimited(next, 1, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Send(context.Background(), invitation()))
	}
	next.AssertExpectations(t)
}

func TestRateLimited_StopsWhenContextEnds(t *testing.T) {
	next := new(mockNotifier)
	next.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	n := NewRateLimited(next, 0.001, 1)
	require.NoError(t, n.Send(context.Background(), invitation()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, n.Send(ctx, invitation()))
	next.AssertNumberOfCalls(t, "Send", 1)
}

func TestRateLimited_UnlimitedWhenRateIsZero(t *testing.T) {
	next := new(mockNotifier)
	next.On("Send", mock.Anything, mock.Anything).Return(nil)

	n := NewRateLimited(next, 0, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, n.Send(context.Background(), invitation()))
	}
	next.AssertNumberOfCalls(t, "Send", 50)
}
