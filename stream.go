package treewire

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

const streamReadBufferSize = 4096

// runStream is the stream session loop: acquire a token, open the feed,
// pump chunks through the frame decoder into the cache tree and the
// listener registry, and reconnect through redirects, keepalive expiry,
// and transient failures. Fatal failures surface on onError and end the
// session.
func (self *Client) runStream(ctx context.Context, path string, params map[string]string, onError ErrorFunc) {
	defer self.endStream(ctx)

	tag := self.sessionId.String()

	for {
		if ctx.Err() != nil {
			return
		}
		self.setStreamState(ctx, streamStateConnecting)

		token, err := acquireToken(ctx, self.tokenSource)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Infof("[s]%s token error = %s\n", tag, err)
			if onError != nil {
				onError(&TransportError{StatusCode: 0, Body: err.Error()})
			}
			return
		}

		streamUrl := self.buildUrl(path, params, token)
		reqCtx, reqCancel := context.WithCancel(ctx)
		req, err := http.NewRequestWithContext(reqCtx, "GET", streamUrl, nil)
		if err != nil {
			reqCancel()
			glog.Infof("[s]%s request error = %s\n", tag, err)
			if onError != nil {
				onError(&TransportError{StatusCode: 0, Body: err.Error()})
			}
			return
		}
		req.Header.Add("Accept", "text/event-stream")

		r, err := self.streamingClient().Do(req)
		if err != nil {
			reqCancel()
			if ctx.Err() != nil {
				return
			}
			// connection level failure. treated like a transient status
			glog.Infof("[s]%s connect error = %s\n", tag, err)
			if !self.backoffWait(ctx, tag) {
				return
			}
			continue
		}

		switch {
		case 300 <= r.StatusCode && r.StatusCode < 400 && r.Header.Get("Location") != "":
			location := r.Header.Get("Location")
			r.Body.Close()
			reqCancel()
			if u, err := url.Parse(location); err == nil && u.Host != "" {
				next := u.Scheme + "://" + u.Host
				glog.V(1).Infof("[s]%s redirect to %s\n", tag, next)
				self.setBaseUrl(next)
			} else {
				glog.Infof("[s]%s unusable redirect location: %s\n", tag, location)
			}
			self.backoff.reset()
			continue
		case r.StatusCode == http.StatusRequestTimeout,
			r.StatusCode == http.StatusTooManyRequests,
			r.StatusCode == http.StatusServiceUnavailable:
			r.Body.Close()
			reqCancel()
			glog.Infof("[s]%s transient status %d\n", tag, r.StatusCode)
			self.backoff.overload()
			if !self.backoffWait(ctx, tag) {
				return
			}
			continue
		case r.StatusCode == http.StatusOK:
			// stream
		default:
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			reqCancel()
			streamErr := &TransportError{StatusCode: r.StatusCode, Body: string(body)}
			glog.Infof("[s]%s stream error = %s\n", tag, streamErr)
			self.backoff.reset()
			if onError != nil {
				onError(streamErr)
			}
			return
		}

		self.setStreamState(ctx, streamStateStreaming)
		expired := self.readStream(tag, reqCancel, r.Body)
		r.Body.Close()
		reqCancel()

		if ctx.Err() != nil {
			return
		}
		if expired {
			glog.Infof("[s]%s keepalive expired. reconnecting\n", tag)
			continue
		}
		// mid stream termination. treated as transient
		glog.Infof("[s]%s stream ended. reconnecting\n", tag)
		if !self.backoffWait(ctx, tag) {
			return
		}
	}
}

// readStream pumps the connection until it ends. Every chunk rearms the
// keepalive watchdog and resets backoff; the watchdog tears the
// connection down when the feed goes silent. Returns whether the watchdog
// fired.
func (self *Client) readStream(tag string, teardown context.CancelFunc, body io.Reader) bool {
	expired := &atomic.Bool{}
	watchdog := time.AfterFunc(self.settings.KeepaliveTimeout, func() {
		expired.Store(true)
		teardown()
	})
	defer watchdog.Stop()

	decoder := NewFrameDecoder(tag)
	buf := make([]byte, streamReadBufferSize)
	for {
		n, err := body.Read(buf)
		if 0 < n {
			// cancel before rearm to avoid duplicate firings
			watchdog.Stop()
			watchdog.Reset(self.settings.KeepaliveTimeout)
			self.backoff.reset()
			for _, event := range decoder.Decode(string(buf[:n])) {
				glog.V(2).Infof("[s]%s %s %s\n", tag, event.Kind, event.Path)
				self.applyEvent(event)
			}
		}
		if err != nil {
			return expired.Load()
		}
	}
}

func (self *Client) backoffWait(ctx context.Context, tag string) bool {
	interval := self.backoff.nextInterval()
	glog.V(1).Infof("[s]%s reconnect in %s\n", tag, interval)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(interval):
		return true
	}
}
