package proto

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ZenLiuCN/hotswap"
)

// Client is the controller side of one connection.
type Client struct {
	conn    net.Conn
	Timeout time.Duration //per request, zero waits forever
}

// Dial the agent socket.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, timeoutOr(err)
	}
	return &Client{conn: conn, Timeout: timeout}, nil
}

// Request sends p and waits for the single response.
func (c *Client) Request(p Payload) (Payload, error) {
	if c.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return nil, err
		}
	}
	if err := Write(c.conn, p); err != nil {
		return nil, timeoutOr(err)
	}
	resp, err := Read(c.conn)
	if err != nil {
		return nil, timeoutOr(err)
	}
	return resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func timeoutOr(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", hotswap.ErrTimeout, err)
	}
	return err
}
