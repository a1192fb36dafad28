// Package wyoming implements the framing of the Wyoming voice protocol.
//
// Each event on the wire is:
//
//	{"type": ..., "data_length": N, "payload_length": M, "version": ...}\n
//	<N bytes of JSON data>      (if data_length > 0)
//	<M bytes of binary payload> (if payload_length > 0)
//
// Data may also appear inline in the header under "data"; inline and
// trailing data are merged, trailing keys winning.
package wyoming

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nadzzz/sonosbridge/internal/event"
)

// Version is the protocol version stamped on outgoing events.
const Version = "1.5.4"

const (
	maxHeaderBytes  = 64 << 10
	maxDataBytes    = 1 << 20
	maxPayloadBytes = 64 << 20
)

// ErrFrameTooLarge is returned when a header, data, or payload exceeds its limit.
var ErrFrameTooLarge = errors.New("wyoming frame too large")

type header struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
	Version       string         `json:"version,omitempty"`
}

// WriteEvent sends one event. Data is written after the header line.
func WriteEvent(w io.Writer, ev *event.Event) error {
	h := header{
		Type:          string(ev.Type),
		PayloadLength: len(ev.Payload),
		Version:       Version,
	}

	var dataBytes []byte
	if len(ev.Data) > 0 {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshalling data: %w", err)
		}
		dataBytes = b
		h.DataLength = len(b)
	}

	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshalling header: %w", err)
	}
	line = append(line, '\n')

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(line); err != nil {
		return err
	}
	if _, err := bw.Write(dataBytes); err != nil {
		return err
	}
	if _, err := bw.Write(ev.Payload); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadEvent reads one event. It returns io.EOF when the stream ends
// cleanly between events.
func ReadEvent(r *bufio.Reader) (*event.Event, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("unmarshalling header: %w", err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("event header has no type: %q", line)
	}
	if h.DataLength < 0 || h.PayloadLength < 0 {
		return nil, fmt.Errorf("negative length in header: %q", line)
	}
	if h.DataLength > maxDataBytes || h.PayloadLength > maxPayloadBytes {
		return nil, ErrFrameTooLarge
	}

	ev := &event.Event{Type: event.Type(h.Type), Data: h.Data}

	if h.DataLength > 0 {
		buf := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading data: %w", unexpected(err))
		}
		var extra map[string]any
		if err := json.Unmarshal(buf, &extra); err != nil {
			return nil, fmt.Errorf("unmarshalling data: %w", err)
		}
		if ev.Data == nil {
			ev.Data = extra
		} else {
			for k, v := range extra {
				ev.Data[k] = v
			}
		}
	}

	if h.PayloadLength > 0 {
		ev.Payload = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r, ev.Payload); err != nil {
			return nil, fmt.Errorf("reading payload: %w", unexpected(err))
		}
	}

	return ev, nil
}

// readLine returns the next newline-terminated line without the newline.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxHeaderBytes {
			return nil, ErrFrameTooLarge
		}
		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, fmt.Errorf("reading header: %w", io.ErrUnexpectedEOF)
		default:
			return nil, err
		}
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
