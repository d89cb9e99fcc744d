// Package rippled implements ledger.Client over a rippled WebSocket
// connection. Signing uses the server's sign/sign_for methods, so secrets are
// sent to the server: point it only at a local node or a test network.
package rippled

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/gorilla/websocket"
)

type Options struct {
	DialTimeout  time.Duration
	PollInterval time.Duration
	LedgerOffset int
	// SubmitTimeout bounds the wait for validation in Submit. Zero means no
	// bound beyond LastLedgerSequence and the caller's context.
	SubmitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.LedgerOffset <= 0 {
		o.LedgerOffset = 20
	}
	return o
}

// Client multiplexes JSON requests over one WebSocket. Responses are matched
// to callers by request id.
type Client struct {
	conn    *websocket.Conn
	opts    Options
	logger  logger.Logger
	nextID  uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan response

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type response struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// RPCError is a rippled error response.
type RPCError struct {
	Command string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rippled %s: %s (%s)", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("rippled %s: %s", e.Command, e.Code)
}

func (e *RPCError) Is(target error) bool {
	switch target {
	case errors.ErrEntryNotFound:
		return e.Code == "entryNotFound" || e.Code == "objectNotFound"
	case errors.ErrAccountNotFound:
		return e.Code == "actNotFound"
	}
	return false
}

// Dial connects to a rippled WebSocket endpoint.
func Dial(ctx context.Context, url string, opts Options, log logger.Logger) (*Client, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial rippled")
	}

	c := &Client{
		conn:    conn,
		opts:    opts,
		logger:  log,
		pending: make(map[uint64]chan response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()

	log.Info("Connected to ledger server", map[string]interface{}{"url": url})
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var resp response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.shutdown(err)
			return
		}
		// Subscription streams share the socket; only responses carry ids.
		if resp.Type != "" && resp.Type != "response" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) Close() error {
	c.shutdown(errors.ErrConnectionClosed)
	return nil
}

func (c *Client) request(ctx context.Context, command string, params map[string]interface{}, out interface{}) error {
	id := atomic.AddUint64(&c.nextID, 1)

	msg := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg["id"] = id
	msg["command"] = command

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return errors.Wrap(err, "write "+command)
	}

	var resp response
	select {
	case resp = <-ch:
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.closed:
		return errors.Wrap(errors.ErrConnectionClosed, command)
	}

	if resp.Status != "success" {
		rpcErr := &RPCError{Command: command, Code: resp.Error, Message: resp.ErrorMessage}
		if rpcErr.Code == "" {
			var inner struct {
				Error        string `json:"error"`
				ErrorMessage string `json:"error_message"`
			}
			_ = json.Unmarshal(resp.Result, &inner)
			rpcErr.Code, rpcErr.Message = inner.Error, inner.ErrorMessage
		}
		return rpcErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrap(err, "decode "+command)
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
