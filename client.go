package treewire

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type AuthMode int

const (
	// AuthModeSecret sends the token as the `auth` query parameter
	AuthModeSecret AuthMode = iota
	// AuthModeOAuth sends the token as the `access_token` query parameter
	AuthModeOAuth
)

type ClientSettings struct {
	HttpConnectTimeout time.Duration
	HttpTlsTimeout     time.Duration
	// overall timeout for one-shot requests. the streaming connection has
	// no overall timeout; the keepalive watchdog bounds it instead
	HttpTimeout time.Duration
	// tear down and reconnect the stream when no traffic arrives for this long
	KeepaliveTimeout time.Duration
	// initial wait before retrying a transient stream failure
	BackoffInterval time.Duration
	// the reconnect wait doubles per consecutive transient failure up to this
	MaxBackoffInterval time.Duration
}

func DefaultClientSettings() *ClientSettings {
	backoffInterval := 2 * time.Second
	return &ClientSettings{
		HttpConnectTimeout: 5 * time.Second,
		HttpTlsTimeout:     5 * time.Second,
		HttpTimeout:        60 * time.Second,
		KeepaliveTimeout:   45 * time.Second,
		BackoffInterval:    backoffInterval,
		MaxBackoffInterval: 128 * backoffInterval,
	}
}

type streamState int

const (
	streamStateIdle streamState = iota
	streamStateConnecting
	streamStateStreaming
)

// ErrorFunc receives fatal stream errors. Transient failures and
// redirects are handled internally and never reach it.
type ErrorFunc func(err error)

// Client mirrors a remote hierarchical document store. One client owns
// one cache tree, one listener registry, and at most one stream session.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	namespace   string
	credential  string
	authMode    AuthMode
	tokenSource TokenSource
	settings    *ClientSettings

	sessionId ulid.ULID

	cache     *CacheTree
	listeners *ListenerRegistry
	backoff   *backoffState

	mutex        sync.Mutex
	baseUrl      string
	state        streamState
	streamCtx    context.Context
	streamCancel context.CancelFunc
}

func NewClient(host string, namespace string, credential string) *Client {
	return NewClientWithContext(context.Background(), host, namespace, credential)
}

func NewClientWithContext(ctx context.Context, host string, namespace string, credential string) *Client {
	return NewClientWithSettings(ctx, host, namespace, credential, AuthModeSecret, DefaultClientSettings())
}

func NewClientWithSettings(
	ctx context.Context,
	host string,
	namespace string,
	credential string,
	authMode AuthMode,
	settings *ClientSettings,
) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &Client{
		ctx:         cancelCtx,
		cancel:      cancel,
		namespace:   namespace,
		credential:  credential,
		authMode:    authMode,
		tokenSource: &StaticTokenSource{Token: credential},
		settings:    settings,
		sessionId:   ulid.Make(),
		cache:       NewCacheTree(),
		listeners:   NewListenerRegistry(),
		backoff:     newBackoffState(settings.BackoffInterval, settings.MaxBackoffInterval),
		baseUrl:     canonicalBaseUrl(host),
	}
}

func canonicalBaseUrl(host string) string {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimSuffix(host, "/")
}

// SetTokenSource replaces the default credential passthrough.
func (self *Client) SetTokenSource(tokenSource TokenSource) {
	self.tokenSource = tokenSource
}

// On registers a listener. Paths are normalized; the last registration
// for a path wins.
func (self *Client) On(path string, callback ListenerFunc) {
	self.listeners.Put(path, callback)
}

// Off removes the listener registered at path, if any.
func (self *Client) Off(path string) {
	self.listeners.Remove(path)
}

// FromCache returns the mirrored value at path, or nil when absent.
// Never errors and never mutates the tree.
func (self *Client) FromCache(path string) *Value {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.cache.At(normalizePath(path))
}

// IsStreaming reports whether a stream session is connecting or streaming.
func (self *Client) IsStreaming() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state != streamStateIdle
}

// Stream opens the change feed for path and keeps the cache tree in sync
// with it, reconnecting transparently through redirects and transient
// failures. Returns false without side effects when a session is already
// active. onError receives only fatal errors, after which the session is
// idle and Stream may be called again.
func (self *Client) Stream(path string, params map[string]string, onError ErrorFunc) bool {
	self.mutex.Lock()
	if self.state != streamStateIdle {
		self.mutex.Unlock()
		return false
	}
	streamCtx, streamCancel := context.WithCancel(self.ctx)
	self.state = streamStateConnecting
	self.streamCtx = streamCtx
	self.streamCancel = streamCancel
	self.mutex.Unlock()

	go self.runStream(streamCtx, normalizePath(path), params, onError)
	return true
}

// CloseStream cancels the stream session and its keepalive watchdog.
// Valid in any state, idempotent.
func (self *Client) CloseStream() {
	self.mutex.Lock()
	streamCancel := self.streamCancel
	self.state = streamStateIdle
	self.streamCtx = nil
	self.streamCancel = nil
	self.mutex.Unlock()

	if streamCancel != nil {
		streamCancel()
	}
}

// Close shuts down the client, cancelling any stream and in-flight
// requests.
func (self *Client) Close() {
	self.CloseStream()
	self.cancel()
}

// setStreamState applies only while ctx is still the active session, so a
// finished session cannot clobber a newer one.
func (self *Client) setStreamState(ctx context.Context, state streamState) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.streamCtx == ctx {
		self.state = state
	}
}

func (self *Client) endStream(ctx context.Context) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.streamCtx == ctx {
		self.state = streamStateIdle
		self.streamCtx = nil
		self.streamCancel = nil
	}
}

func (self *Client) currentBaseUrl() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.baseUrl
}

func (self *Client) setBaseUrl(baseUrl string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.baseUrl = baseUrl
}

func (self *Client) applyEvent(event *ChangeEvent) {
	self.mutex.Lock()
	self.cache.Apply(event)
	self.mutex.Unlock()
	// dispatch outside the lock so listeners can call back into the client
	self.listeners.Dispatch(event, self.cache)
}

func (self *Client) requestClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: self.settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: self.settings.HttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   self.settings.HttpTimeout,
	}
}

func (self *Client) streamingClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: self.settings.HttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: self.settings.HttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		// redirects are observed by the session state machine, not followed
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
