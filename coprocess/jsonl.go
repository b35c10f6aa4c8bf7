package coprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds one request line.
const maxLineSize = 4 << 20

// ServeJSON runs a co-process speaking newline-delimited JSON: one Request
// per input line, one Message per output line. Malformed lines are answered
// with ERROR. When r reaches EOF the queued requests are answered before
// ServeJSON returns.
func ServeJSON(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	p := Start(ctx, opts)

	var mu sync.Mutex
	// write encodes one message per line. A message that cannot be encoded is
	// answered with ERROR; only failures of w itself are returned.
	write := func(msg Message) error {
		line, err := json.Marshal(msg)
		if err != nil {
			line, err = json.Marshal(Message{
				Type:      TypeError,
				RequestID: msg.RequestID,
				Message:   fmt.Sprintf("encode %s: %v", msg.Type, err),
			})
			if err != nil {
				return err
			}
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = w.Write(append(line, '\n'))
		return err
	}

	writeErr := make(chan error, 1)
	go func() {
		var firstErr error
		for msg := range p.Events() {
			if firstErr != nil {
				continue // Keep draining so the worker can exit.
			}
			if err := write(msg); err != nil {
				firstErr = fmt.Errorf("write %s: %w", msg.Type, err)
			}
		}
		writeErr <- firstErr
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var readErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := write(Message{Type: TypeError, Message: fmt.Sprintf("invalid request: %v", err)}); err != nil {
				readErr = err
				break
			}
			continue
		}
		if err := p.Send(req); err != nil {
			if !errors.Is(err, ErrClosed) {
				readErr = err
			}
			break
		}
	}
	if readErr == nil {
		readErr = scanner.Err()
	}

	if readErr != nil || ctx.Err() != nil {
		p.Close()
	} else {
		p.Drain()
	}
	if err := <-writeErr; err != nil {
		return err
	}
	if readErr != nil {
		return fmt.Errorf("read requests: %w", readErr)
	}
	return nil
}
