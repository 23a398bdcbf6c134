package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestClient_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	body, errMsg := c.Post(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{"model":"m"}`))
	require.Nil(t, errMsg)
	require.Equal(t, "chatcmpl-1", gjson.GetBytes(body, "id").String())
}

func TestClient_Post4xxRelayed(t *testing.T) {
	t.Run("openai envelope passes through", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
		}))
		defer srv.Close()

		c := NewClient(5 * time.Second)
		_, errMsg := c.Post(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))
		require.NotNil(t, errMsg)
		require.Equal(t, http.StatusBadRequest, errMsg.StatusCode)
		require.Equal(t, "bad prompt", gjson.Get(errMsg.Error.Error(), "error.message").String())
	})

	t.Run("plain text body gets wrapped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("prompt too long"))
		}))
		defer srv.Close()

		c := NewClient(5 * time.Second)
		_, errMsg := c.Post(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))
		require.NotNil(t, errMsg)
		require.Equal(t, http.StatusUnprocessableEntity, errMsg.StatusCode)
		require.Equal(t, "prompt too long", gjson.Get(errMsg.Error.Error(), "error.message").String())
	})
}

func TestClient_Post5xxMapsTo503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	_, errMsg := c.Post(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))
	require.NotNil(t, errMsg)
	require.Equal(t, http.StatusServiceUnavailable, errMsg.StatusCode)
	require.Equal(t, "backend_unavailable", errMsg.Code)
}

func TestClient_PostUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(5 * time.Second)
	_, errMsg := c.Post(context.Background(), url, "/v1/chat/completions", []byte(`{}`))
	require.NotNil(t, errMsg)
	require.Equal(t, http.StatusServiceUnavailable, errMsg.StatusCode)
	require.Equal(t, "backend_unavailable", errMsg.Code)
}

func TestClient_PostTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(50 * time.Millisecond)
	_, errMsg := c.Post(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))
	require.NotNil(t, errMsg)
	require.Equal(t, http.StatusGatewayTimeout, errMsg.StatusCode)
	require.Equal(t, "backend_timeout", errMsg.Code)
}

func TestClient_PostStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The client forces stream on before forwarding.
		body, _ := io.ReadAll(r.Body)
		require.True(t, gjson.GetBytes(body, "stream").Bool())

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"n\":%d}\n\n", i)
			flusher.Flush()
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	dataChan, errChan := c.PostStream(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{"model":"m"}`))

	var chunks [][]byte
	for chunk := range dataChan {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		require.EqualValues(t, i, gjson.GetBytes(chunk, "n").Int())
	}
	_, open := <-errChan
	require.False(t, open)
}

func TestClient_PostStreamNoSpaceAfterData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "data:{\"n\":0}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	dataChan, _ := c.PostStream(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))

	chunk, open := <-dataChan
	require.True(t, open)
	require.EqualValues(t, 0, gjson.GetBytes(chunk, "n").Int())
	_, open = <-dataChan
	require.False(t, open)
}

func TestClient_PostStreamBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	dataChan, errChan := c.PostStream(context.Background(), srv.URL, "/v1/chat/completions", []byte(`{}`))

	errMsg := <-errChan
	require.NotNil(t, errMsg)
	require.Equal(t, http.StatusServiceUnavailable, errMsg.StatusCode)
	_, open := <-dataChan
	require.False(t, open)
}

func TestClient_PostStreamAbandonedConsumerReleasesProducer(t *testing.T) {
	// A disconnected client makes the handler return without draining either
	// channel. The producer goroutine must still be able to report its error
	// and exit instead of blocking on the send forever.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(5 * time.Second)
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c.PostStream(ctx, url, "/v1/chat/completions", []byte(`{}`))
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 5*time.Second, 50*time.Millisecond, "stream producer goroutines never exited")
}

func TestRemapToOpenAIError_EmptyBody(t *testing.T) {
	out := remapToOpenAIError(nil, http.StatusNotFound)
	require.Equal(t, "backend returned 404", gjson.Get(out, "error.message").String())
}
