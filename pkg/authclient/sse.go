package authclient

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// EventStream reads text/event-stream frames.
type EventStream struct {
	body io.ReadCloser
	rd   *bufio.Reader
}

func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, rd: bufio.NewReader(body)}
}

// Next blocks until a full event arrives. Comment lines are skipped.
func (s *EventStream) Next() (Event, error) {
	var ev Event
	var data []string
	for {
		line, err := s.rd.ReadString('\n')
		if err != nil {
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if ev.Name == "" && data == nil {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Name == "" {
				ev.Name = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}
