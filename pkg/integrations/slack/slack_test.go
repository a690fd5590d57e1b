package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/integrations"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

type webhookBody struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func TestNotify(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL)
	require.NoError(t, err)

	err = n.Notify(context.Background(), interfaces.Notification{
		Recipient: "#ops",
		Subject:   "Order 42",
		Message:   "Large order received",
	})
	require.NoError(t, err)
	assert.Equal(t, webhookBody{Channel: "#ops", Text: "*Order 42*\nLarge order received"}, got)
}

func TestNotifyErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "invalid token", status: http.StatusForbidden, permanent: true},
		{name: "channel not found", status: http.StatusNotFound, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests, permanent: false},
		{name: "slack down", status: http.StatusInternalServerError, permanent: false},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "1")
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			n, err := NewNotifier(srv.URL)
			require.NoError(t, err)
			err = n.Notify(context.Background(), interfaces.Notification{Message: "hi"})
			require.Error(t, err)

			var status *integrations.StatusError
			require.ErrorAs(t, err, &status)
			assert.Equal(t, "slack", status.Service)
			assert.Equal(t, tt.status, status.StatusCode)
			assert.Equal(t, tt.permanent, connector.IsPermanent(err))
		})
	}
}

func TestNewNotifierRequiresURL(t *testing.T) {
	_, err := NewNotifier("")
	assert.Error(t, err)
}

func TestNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n, err := NewNotifier(url)
	require.NoError(t, err)
	err = n.Notify(context.Background(), interfaces.Notification{Message: "hi"})
	require.Error(t, err)
	assert.False(t, connector.IsPermanent(err))
}
