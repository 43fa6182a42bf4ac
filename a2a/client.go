package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/pdlcmesh/core"
)

// ErrTaskCanceled is returned when a remote task ends canceled.
var ErrTaskCanceled = errors.New("a2a: task canceled")

// ErrStreamClosed is returned when a stream ends without a final update.
var ErrStreamClosed = errors.New("a2a: stream closed before final update")

// ClientOptions configures a Client.
type ClientOptions struct {
	HTTPClient *http.Client
}

// Client calls a remote A2A agent. It implements core.TurnExecutor.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

var _ core.TurnExecutor = (*Client)(nil)

// NewClient creates a client for the agent served at baseURL.
func NewClient(baseURL string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		HTTPClient: http.DefaultClient,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		url:  strings.TrimRight(baseURL, "/"),
		http: opts.HTTPClient,
	}
}

// Card fetches the remote agent card.
func (c *Client) Card(ctx context.Context) (AgentCard, error) {
	var card AgentCard

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+CardPath, nil)
	if err != nil {
		return card, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return card, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return card, fmt.Errorf("fetch agent card: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return card, fmt.Errorf("decode agent card: %w", err)
	}

	return card, nil
}

// Send calls tasks/send.
func (c *Client) Send(ctx context.Context, params TaskSendParams) (Task, error) {
	var task Task

	resp, err := c.call(ctx, MethodSend, params, "application/json")
	if err != nil {
		return task, err
	}
	defer resp.Body.Close()

	var rpc rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return task, fmt.Errorf("decode response: %w", err)
	}

	if rpc.Error != nil {
		return task, rpc.Error
	}

	if err := json.Unmarshal(rpc.Result, &task); err != nil {
		return task, fmt.Errorf("decode task: %w", err)
	}

	return task, nil
}

// Invoke sends the query and returns the joined text of the task's
// artifacts. Structured results yield "".
func (c *Client) Invoke(ctx context.Context, query, sessionID string) (string, error) {
	task, err := c.Send(ctx, sendParams(query, sessionID))
	if err != nil {
		return "", err
	}

	switch task.Status.State {
	case StateFailed:
		return "", taskError(task.Status)
	case StateCanceled:
		return "", ErrTaskCanceled
	}

	var texts []string
	for _, a := range task.Artifacts {
		for _, p := range a.Parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}

	return strings.Join(texts, "\n"), nil
}

// Stream calls tasks/sendSubscribe and maps the events onto turn updates.
func (c *Client) Stream(ctx context.Context, query, sessionID string) iter.Seq[core.TurnUpdate] {
	return func(yield func(core.TurnUpdate) bool) {
		failed := func(err error) {
			yield(core.TurnUpdate{Complete: true, Content: "", Err: err})
		}

		resp, err := c.call(ctx, MethodSendSubscribe, sendParams(query, sessionID), "text/event-stream")
		if err != nil {
			failed(err)
			return
		}
		defer resp.Body.Close()

		if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			var rpc rawResponse
			if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
				failed(fmt.Errorf("decode response: %w", err))
				return
			}
			if rpc.Error != nil {
				failed(rpc.Error)
				return
			}
			failed(ErrStreamClosed)
			return
		}

		var content any = ""

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}

			var rpc rawResponse
			if err := json.Unmarshal([]byte(data), &rpc); err != nil {
				failed(fmt.Errorf("decode event: %w", err))
				return
			}

			if rpc.Error != nil {
				failed(rpc.Error)
				return
			}

			var ev streamEvent
			if err := json.Unmarshal(rpc.Result, &ev); err != nil {
				failed(fmt.Errorf("decode event: %w", err))
				return
			}

			switch {
			case ev.Artifact != nil:
				content = partsContent(ev.Artifact.Parts)
			case ev.Status != nil && ev.Final:
				switch ev.Status.State {
				case StateFailed:
					failed(taskError(*ev.Status))
				case StateCanceled:
					failed(ErrTaskCanceled)
				default:
					yield(core.TurnUpdate{Complete: true, Content: content})
				}
				return
			case ev.Status != nil:
				status := ""
				if ev.Status.Message != nil {
					status = ev.Status.Message.Text()
				}
				if !yield(core.TurnUpdate{Status: status}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			failed(fmt.Errorf("read stream: %w", err))
			return
		}

		failed(ErrStreamClosed)
	}
}

func (c *Client) call(ctx context.Context, method string, params any, accept string) (*http.Response, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", c.nextID.Add(1))),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

type streamEvent struct {
	ID       string      `json:"id"`
	Status   *TaskStatus `json:"status"`
	Final    bool        `json:"final"`
	Artifact *Artifact   `json:"artifact"`
}

func sendParams(query, sessionID string) TaskSendParams {
	return TaskSendParams{
		ID:                  uuid.NewString(),
		SessionID:           sessionID,
		Message:             Message{Role: "user", Parts: []Part{TextPart(query)}},
		AcceptedOutputModes: []string{"text", "text/plain"},
	}
}

func partsContent(parts []Part) any {
	var texts []string
	for _, p := range parts {
		if p.Type == "data" && len(texts) == 0 {
			return p.Data
		}
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func taskError(status TaskStatus) error {
	if status.Message != nil {
		if msg := status.Message.Text(); msg != "" {
			return fmt.Errorf("a2a: task failed: %s", msg)
		}
	}
	return errors.New("a2a: task failed")
}
