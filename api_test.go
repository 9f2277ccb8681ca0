package treewire

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testClient(host string) *Client {
	settings := DefaultClientSettings()
	settings.BackoffInterval = 50 * time.Millisecond
	settings.MaxBackoffInterval = 200 * time.Millisecond
	return NewClientWithSettings(context.Background(), host, "testns", "secret", AuthModeSecret, settings)
}

func TestBuildUrl(t *testing.T) {
	client := testClient("db.example.com")
	u := client.buildUrl("/users/1", map[string]string{
		"orderBy":      "age",
		"limitToFirst": "3",
	}, "secret")
	assert.Equal(t,
		"https://db.example.com/users/1.json?auth=secret&limitToFirst=3&ns=testns&orderBy=%22age%22",
		u)

	// root path
	assert.Equal(t, "https://db.example.com/.json?auth=secret&ns=testns", client.buildUrl("/", nil, "secret"))
}

func TestBuildUrlOAuth(t *testing.T) {
	client := NewClientWithSettings(
		context.Background(), "db.example.com", "testns", "tok", AuthModeOAuth, DefaultClientSettings())
	u := client.buildUrl("/a", nil, "tok")
	assert.Equal(t, "https://db.example.com/a.json?access_token=tok&ns=testns", u)
}

func TestBuildUrlQuotedParams(t *testing.T) {
	client := testClient("db.example.com")
	u := client.buildUrl("/a", map[string]string{"equalTo": "blue", "shallow": "true"}, "")
	// equalTo is value-quoted, shallow is not
	assert.Equal(t, "https://db.example.com/a.json?equalTo=%22blue%22&ns=testns&shallow=true", u)
}

func TestReadSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/users/u1.json", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("auth"))
		assert.Equal(t, "testns", r.URL.Query().Get("ns"))
		w.Write([]byte(`{"name": "ana", "age": 3}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.ReadSync("/users/u1", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, map[string]any{"name": "ana", "age": float64(3)}, result.Interface())
}

func TestReadCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`7`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	callback, c := NewBlockingApiCallback[*Value]()
	client.Read("/n", nil, callback)
	result := <-c
	assert.Equal(t, nil, result.Error)
	assert.Equal(t, float64(7), result.Result.Interface())
}

func TestWriteSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		w.Write(body)
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.WriteSync("/x", NewValue(map[string]any{"a": float64(1)}))
	assert.Equal(t, nil, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, result.Interface())
}

func TestUpdateSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		w.Write([]byte(`{"b":2}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.UpdateSync("/x", NewValue(map[string]any{"b": float64(2)}))
	assert.Equal(t, nil, err)
	assert.Equal(t, map[string]any{"b": float64(2)}, result.Interface())
}

func TestRemoveSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.Write([]byte(`null`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.RemoveSync("/x")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, result.IsNull())
}

func TestPushSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		w.Write([]byte(`{"name": "-Nabc123"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	name, err := client.PushSync("/items", NewValue(map[string]any{"a": float64(1)}))
	assert.Equal(t, nil, err)
	assert.Equal(t, "-Nabc123", name)
}

func TestRemoteErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "permission denied"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.ReadSync("/x", nil)
	var remoteErr *RemoteError
	assert.Equal(t, true, errors.As(err, &remoteErr))
	assert.Equal(t, "permission denied", remoteErr.Message)
}

func TestTransportErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.ReadSync("/x", nil)
	var transportErr *TransportError
	assert.Equal(t, true, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
}

func TestTokenErrorSyntheticStatus(t *testing.T) {
	client := testClient("db.example.com")
	client.SetTokenSource(TokenSourceFunc(func(callback func(token string, err error)) {
		callback("", errors.New("no token"))
	}))
	_, err := client.ReadSync("/x", nil)
	var transportErr *TransportError
	assert.Equal(t, true, errors.As(err, &transportErr))
	assert.Equal(t, 0, transportErr.StatusCode)
}

func TestRateLimitLockout(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount += 1
		if requestCount == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`1`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.ReadSync("/x", nil)
	var transportErr *TransportError
	assert.Equal(t, true, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusTooManyRequests, transportErr.StatusCode)
	assert.Equal(t, 1, requestCount)

	// locked out: the next call fails without a network attempt
	_, err = client.ReadSync("/x", nil)
	var rateLimitedErr *RateLimitedError
	assert.Equal(t, true, errors.As(err, &rateLimitedErr))
	assert.Equal(t, 1, requestCount)

	// after the deadline passes the request goes through and resets state
	time.Sleep(80 * time.Millisecond)
	result, err := client.ReadSync("/x", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(1), result.Interface())
	assert.Equal(t, 2, requestCount)

	_, limited := client.backoff.limited()
	assert.Equal(t, false, limited)
}
