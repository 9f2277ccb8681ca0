package treewire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
)

// these parameter names take json string literals on the wire, matching
// the remote query-by-value convention
var quotedParams = map[string]bool{
	"startAt": true,
	"endAt":   true,
	"equalTo": true,
	"orderBy": true,
}

// Read fetches the value at path. params may carry query options such as
// orderBy and startAt.
func (self *Client) Read(path string, params map[string]string, callback ValueCallback) {
	go self.request(self.ctx, "GET", path, params, nil, callback)
}

func (self *Client) ReadSync(path string, params map[string]string) (*Value, error) {
	return self.request(self.ctx, "GET", path, params, nil, NewNoopApiCallback[*Value]())
}

// Push appends value under path with a server generated key and surfaces
// that key.
func (self *Client) Push(path string, value *Value, callback NameCallback) {
	go self.push(self.ctx, path, value, callback)
}

func (self *Client) PushSync(path string, value *Value) (string, error) {
	return self.push(self.ctx, path, value, NewNoopApiCallback[string]())
}

// Write replaces the subtree at path with value.
func (self *Client) Write(path string, value *Value, callback ValueCallback) {
	go self.request(self.ctx, "PUT", path, nil, value, callback)
}

func (self *Client) WriteSync(path string, value *Value) (*Value, error) {
	return self.request(self.ctx, "PUT", path, nil, value, NewNoopApiCallback[*Value]())
}

// Update merges the child keys of value into the subtree at path without
// touching sibling keys.
func (self *Client) Update(path string, value *Value, callback ValueCallback) {
	go self.request(self.ctx, "PATCH", path, nil, value, callback)
}

func (self *Client) UpdateSync(path string, value *Value) (*Value, error) {
	return self.request(self.ctx, "PATCH", path, nil, value, NewNoopApiCallback[*Value]())
}

// Remove deletes the subtree at path.
func (self *Client) Remove(path string, callback ValueCallback) {
	go self.request(self.ctx, "DELETE", path, nil, nil, callback)
}

func (self *Client) RemoveSync(path string) (*Value, error) {
	return self.request(self.ctx, "DELETE", path, nil, nil, NewNoopApiCallback[*Value]())
}

func (self *Client) push(ctx context.Context, path string, value *Value, callback apiCallback[string]) (string, error) {
	result, err := self.request(ctx, "POST", path, nil, value, NewNoopApiCallback[*Value]())
	if err != nil {
		callback.Result("", err)
		return "", err
	}
	name := result.Child("name")
	if name == nil || name.Kind() != KindString {
		err := fmt.Errorf("push response missing name: %s", result)
		callback.Result("", err)
		return "", err
	}
	callback.Result(name.Text(), nil)
	return name.Text(), nil
}

// request is the one-shot dispatcher. Every path through it lands in
// exactly one callback.Result call, mirroring the return value.
func (self *Client) request(
	ctx context.Context,
	method string,
	path string,
	params map[string]string,
	body *Value,
	callback apiCallback[*Value],
) (*Value, error) {
	fail := func(err error) (*Value, error) {
		callback.Result(nil, err)
		return nil, err
	}

	if until, ok := self.backoff.limited(); ok {
		return fail(&RateLimitedError{Until: until})
	}

	token, err := acquireToken(ctx, self.tokenSource)
	if err != nil {
		return fail(&TransportError{StatusCode: 0, Body: err.Error()})
	}

	var requestBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fail(err)
		}
		requestBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, self.buildUrl(normalizePath(path), params, token), requestBody)
	if err != nil {
		return fail(&TransportError{StatusCode: 0, Body: err.Error()})
	}
	req.Header.Add("Content-Type", "application/json")

	r, err := self.requestClient().Do(req)
	if err != nil {
		return fail(&TransportError{StatusCode: 0, Body: err.Error()})
	}
	defer r.Body.Close()

	responseBody, err := io.ReadAll(r.Body)
	if err != nil {
		return fail(&TransportError{StatusCode: 0, Body: err.Error()})
	}

	switch r.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		until := self.backoff.overload()
		glog.Infof("[api]%s %s %s overloaded (%d), locked out until %s\n",
			self.sessionId, method, path, r.StatusCode, until.Format("15:04:05"))
		return fail(&TransportError{StatusCode: r.StatusCode, Body: strings.TrimSpace(string(responseBody))})
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		self.backoff.clearOverload()
		return fail(&TransportError{StatusCode: r.StatusCode, Body: strings.TrimSpace(string(responseBody))})
	}

	self.backoff.reset()

	result := &Value{}
	if err := json.Unmarshal(responseBody, result); err != nil {
		return fail(err)
	}
	// the remote can report errors inside a success envelope
	if message, ok := remoteErrorMessage(result); ok {
		return fail(&RemoteError{Message: message})
	}

	callback.Result(result, nil)
	return result, nil
}

func remoteErrorMessage(value *Value) (string, bool) {
	if value.Kind() != KindMap {
		return "", false
	}
	remoteError := value.Child("error")
	if remoteError == nil || remoteError.IsNull() {
		return "", false
	}
	if remoteError.Kind() == KindString {
		return remoteError.Text(), true
	}
	return remoteError.String(), true
}

// buildUrl computes base + path + `.json` + query. The query always
// carries the namespace and the auth parameter named by the auth mode.
func (self *Client) buildUrl(path string, params map[string]string, token string) string {
	values := url.Values{}
	if self.namespace != "" {
		values.Set("ns", self.namespace)
	}
	if token != "" {
		switch self.authMode {
		case AuthModeOAuth:
			values.Set("access_token", token)
		default:
			values.Set("auth", token)
		}
	}
	for name, value := range params {
		if quotedParams[name] {
			value = "\"" + value + "\""
		}
		values.Set(name, value)
	}
	return fmt.Sprintf("%s%s.json?%s", self.currentBaseUrl(), path, values.Encode())
}
