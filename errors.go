package treewire

import (
	"fmt"
	"time"
)

// TransportError is a status-coded failure. StatusCode 0 is synthetic,
// for failures before the request was sent, such as token acquisition.
type TransportError struct {
	StatusCode int
	Body       string
}

func (self *TransportError) Error() string {
	if self.StatusCode == 0 {
		return fmt.Sprintf("request failed before send: %s", self.Body)
	}
	return fmt.Sprintf("request failed with status %d: %s", self.StatusCode, self.Body)
}

// RateLimitedError is returned without a network attempt while the
// shared overload deadline has not passed.
type RateLimitedError struct {
	Until time.Time
}

func (self *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", self.Until.Format(time.RFC3339))
}

// RemoteError is an error payload the remote reported inside a
// successful-looking response envelope.
type RemoteError struct {
	Message string
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", self.Message)
}
