package treewire

import (
	"encoding/json"
	"strings"

	"github.com/golang/glog"
)

const (
	EventKindPut       = "put"
	EventKindPatch     = "patch"
	EventKindKeepAlive = "keep-alive"
)

// ChangeEvent is one decoded entry of the change feed. Put means the
// subtree at Path now equals Data exactly (deleted when Data is null).
// Patch means merge the child keys of Data into the subtree at Path.
type ChangeEvent struct {
	Kind string
	Path string
	Data *Value
}

type changeEventBody struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// FrameDecoder converts the raw chunked feed text into change events.
// Frames are two lines, `event: <kind>` then `data: <json>`, separated by
// blank lines. A partial trailing frame is carried over to the next call.
// Remote error objects arrive as a multi line json object whose last line
// is a bare closing brace.
type FrameDecoder struct {
	tag string
	buf string
}

func NewFrameDecoder(tag string) *FrameDecoder {
	return &FrameDecoder{
		tag: tag,
	}
}

// Decode consumes one chunk and returns the change events completed by
// it. Never blocks. Keep-alive frames are consumed without producing an
// event. Undecodable lines mid buffer are dropped to resync; undecodable
// text at the end of the buffer is retained in case the frame was split
// across chunks.
func (self *FrameDecoder) Decode(chunk string) []*ChangeEvent {
	data := self.buf + chunk
	self.buf = ""

	lines := strings.Split(data, "\n")
	// the final split element was not newline terminated
	tail := lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	events := []*ChangeEvent{}
	// mark is the start of text not yet consumed by a recognized frame
	mark := 0
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case line == "":
			// frame separator
			if mark == i {
				mark = i + 1
			}
			i += 1
		case line == "}":
			// terminator of a remote error object. decode everything
			// buffered through this line as one object and log it.
			raw := strings.Join(lines[mark:i+1], "\n")
			var remoteError map[string]any
			if err := json.Unmarshal([]byte(raw), &remoteError); err == nil {
				glog.Infof("[fd]%s remote error = %v\n", self.tag, remoteError)
			} else {
				glog.Infof("[fd]%s undecodable error frame: %s\n", self.tag, raw)
			}
			i += 1
			mark = i
		case strings.HasPrefix(line, "event:"):
			if len(lines) <= i+1 {
				// the data line has not fully arrived
				self.buf = strings.Join(lines[mark:], "\n") + "\n" + tail
				return events
			}
			dataLine := lines[i+1]
			if !strings.HasPrefix(dataLine, "data:") {
				// desync. drop the event line and rescan from the next
				glog.V(1).Infof("[fd]%s drop unpaired event line: %s\n", self.tag, line)
				i += 1
				continue
			}
			kind := strings.TrimSpace(line[len("event:"):])
			payload := strings.TrimSpace(dataLine[len("data:"):])
			var body changeEventBody
			if err := json.Unmarshal([]byte(payload), &body); err != nil {
				if i+1 == len(lines)-1 && tail == "" {
					// possibly split mid payload. wait for more input
					self.buf = strings.Join(lines[mark:], "\n") + "\n"
					return events
				}
				// mid stream decode failure. drop the frame and resync
				glog.V(1).Infof("[fd]%s drop undecodable data line: %s\n", self.tag, dataLine)
				i += 2
				mark = i
				continue
			}
			switch kind {
			case EventKindPut, EventKindPatch:
				events = append(events, &ChangeEvent{
					Kind: kind,
					Path: normalizePath(body.Path),
					Data: decodeEventData(body.Data),
				})
			case EventKindKeepAlive:
				// traffic only. the caller's watchdog rearms per chunk
			default:
				glog.V(1).Infof("[fd]%s ignore event kind %s\n", self.tag, kind)
			}
			i += 2
			mark = i
		default:
			// interior of an error object or noise. leave undecided until
			// a terminator or the next recognized frame consumes past it.
			i += 1
		}
	}
	if mark < len(lines) {
		self.buf = strings.Join(lines[mark:], "\n") + "\n" + tail
	} else {
		self.buf = tail
	}
	return events
}

func decodeEventData(raw json.RawMessage) *Value {
	if raw == nil {
		return NewNullValue()
	}
	value := &Value{}
	if err := json.Unmarshal(raw, value); err != nil {
		return NewNullValue()
	}
	return value
}
