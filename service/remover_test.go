package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usamasarwar188/BG-Remover/config"
)

func TestHTTPRemover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append([]byte("cut:"), data...))
	}))
	defer srv.Close()

	r := NewHTTPRemover(&config.RemovalConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	out, err := r.Remove(context.Background(), []byte("photo"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cut:photo"), out)
}

func TestHTTPRemoverErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			want: "model not loaded",
		},
		{
			name:    "empty",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			want:    "empty response",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			r := NewHTTPRemover(&config.RemovalConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
			_, err := r.Remove(context.Background(), []byte("photo"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRemoval)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestHTTPRemoverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewHTTPRemover(&config.RemovalConfig{Endpoint: url, Timeout: time.Second})
	_, err := r.Remove(context.Background(), []byte("photo"))
	assert.ErrorIs(t, err, ErrRemoval)
}
