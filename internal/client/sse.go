package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"chatbi/internal/logging"
	"chatbi/internal/types"
)

// StreamErrorCode marks the RUN_ERROR synthesized when the event stream
// breaks before the agent finished the run.
const StreamErrorCode = "STREAM_ERROR"

func streamDebugEnabled() bool {
	return strings.TrimSpace(os.Getenv("CHATBI_STREAM_DEBUG")) == "1"
}

func (c *Client) streamLog(msg string, fields ...logging.Field) {
	if !c.streamDebug {
		return
	}
	c.logger.Info(msg, append([]logging.Field{logging.F("component", "stream")}, fields...)...)
}

// RunAgent posts input and returns the decoded event stream. The channel is
// closed when the stream ends; the returned func cancels it.
func (c *Client) RunAgent(ctx context.Context, input types.RunAgentInput) (<-chan types.Event, func(), error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	target := c.AgentURL()
	c.streamLog("run open", logging.F("thread_id", input.ThreadID), logging.F("run_id", input.RunID), logging.F("url", target))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		c.streamLog("run error", logging.F("run_id", input.RunID), logging.F("status", resp.StatusCode))
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan types.Event, 256)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		count := 0
		terminal := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		var dataLines []string

		emit := func(event types.Event) bool {
			select {
			case ch <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if len(dataLines) == 0 {
					continue
				}
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				var event types.Event
				if err := json.Unmarshal([]byte(payload), &event); err != nil {
					c.streamLog("run decode error", logging.F("run_id", input.RunID), logging.Err(err))
					continue
				}
				if !emit(event) {
					return
				}
				count++
				if count == 1 {
					c.streamLog("run first", logging.F("run_id", input.RunID), logging.F("type", string(event.Type)))
				}
				if event.Type == types.EventRunFinished || event.Type == types.EventRunError {
					terminal = true
				}
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			}
		}
		if len(dataLines) > 0 && ctx.Err() == nil {
			var event types.Event
			if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &event); err == nil && emit(event) {
				count++
				terminal = terminal || event.Type == types.EventRunFinished || event.Type == types.EventRunError
			}
		}
		err := scanner.Err()
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil && !terminal {
			c.streamLog("run scan error", logging.F("run_id", input.RunID), logging.Err(err))
			emit(types.Event{Type: types.EventRunError, Code: StreamErrorCode, Message: err.Error(), ThreadID: input.ThreadID, RunID: input.RunID})
		}
		c.streamLog("run close", logging.F("run_id", input.RunID), logging.F("count", count), logging.F("dur", time.Since(start)))
	}()

	return ch, cancel, nil
}
