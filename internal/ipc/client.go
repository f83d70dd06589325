package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultTimeout bounds a single request round trip.
const DefaultTimeout = 5 * time.Second

// Client is a synchronous control client for the expandd daemon. One
// request is in flight at a time.
type Client struct {
	addr    string
	timeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	requestID uint32
}

// NewClient creates a client for the given socket address. Connect must
// be called before issuing requests.
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-request deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Connect dials the daemon socket.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	network := "unix"
	if !isUnixAddr(c.addr) {
		network = "tcp"
	}
	conn, err := net.DialTimeout(network, c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("connecting to daemon at %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// request sends one message and waits for the matching response.
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	c.requestID++
	msg := NewMessage(msgType, c.requestID, data)

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := msg.Write(c.conn); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.Header.RequestID != msg.Header.RequestID {
		return nil, fmt.Errorf("response id mismatch: sent %d, got %d",
			msg.Header.RequestID, resp.Header.RequestID)
	}
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := json.Unmarshal(resp.Payload, &errResp); err != nil {
			return nil, fmt.Errorf("daemon error (unparseable payload)")
		}
		return nil, fmt.Errorf("daemon error: %s: %s", errResp.Code, errResp.Message)
	}
	return resp, nil
}

func decode[T any](msg *Message) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &v, nil
}

// Ping checks that the daemon is responsive.
func (c *Client) Ping() error {
	resp, err := c.request(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type: 0x%04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.request(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	return decode[StatusResponse](resp)
}

// Lock engages the input lock.
func (c *Client) Lock() (*LockResponse, error) {
	resp, err := c.request(MsgLock, &LockRequest{Locked: true})
	if err != nil {
		return nil, err
	}
	return decode[LockResponse](resp)
}

// Unlock releases the input lock.
func (c *Client) Unlock() (*LockResponse, error) {
	resp, err := c.request(MsgUnlock, &LockRequest{Locked: false})
	if err != nil {
		return nil, err
	}
	return decode[LockResponse](resp)
}

// Reload asks the daemon to reload its config and snippet library.
func (c *Client) Reload() (*ReloadResponse, error) {
	resp, err := c.request(MsgReload, nil)
	if err != nil {
		return nil, err
	}
	return decode[ReloadResponse](resp)
}

// ListSnippets fetches the registered snippets.
func (c *Client) ListSnippets() ([]SnippetInfo, error) {
	resp, err := c.request(MsgListSnippets, nil)
	if err != nil {
		return nil, err
	}
	list, err := decode[ListSnippetsResponse](resp)
	if err != nil {
		return nil, err
	}
	return list.Snippets, nil
}
