package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/connector"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

func TestCreateIssue(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/shop/issues", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 17, "html_url": "https://github.com/acme/shop/issues/17"}`))
	}))
	defer srv.Close()

	c, err := NewIssueCreator(context.Background(), "secret", WithBaseURL(srv.URL))
	require.NoError(t, err)

	ref, err := c.CreateIssue(context.Background(), interfaces.Issue{
		Owner:  "acme",
		Repo:   "shop",
		Title:  "Stock low for A1",
		Body:   "Only 2 left",
		Labels: []string{"inventory"},
	})
	require.NoError(t, err)
	assert.Equal(t, &interfaces.IssueRef{Number: 17, URL: "https://github.com/acme/shop/issues/17"}, ref)

	assert.Equal(t, "Stock low for A1", got["title"])
	assert.Equal(t, "Only 2 left", got["body"])
	assert.Equal(t, []interface{}{"inventory"}, got["labels"])
}

func TestCreateIssueErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "repo not found", status: http.StatusNotFound, permanent: true},
		{name: "validation failed", status: http.StatusUnprocessableEntity, permanent: true},
		{name: "server error", status: http.StatusBadGateway, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message": "nope"}`))
			}))
			defer srv.Close()

			c, err := NewIssueCreator(context.Background(), "secret", WithBaseURL(srv.URL))
			require.NoError(t, err)

			_, err = c.CreateIssue(context.Background(), interfaces.Issue{Owner: "acme", Repo: "shop", Title: "t"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, connector.IsPermanent(err))
		})
	}
}

func TestNewIssueCreatorRequiresToken(t *testing.T) {
	_, err := NewIssueCreator(context.Background(), "")
	assert.Error(t, err)
}
