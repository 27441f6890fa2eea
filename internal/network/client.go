package network

import (
	"errors"
	"net"
	"time"

	"github.com/rotisserie/eris"
)

// Client is a headless UDP peer speaking the wire protocol. It is used by
// the bot binary and by end-to-end tests.
type Client struct {
	conn *net.UDPConn
	buf  []byte
}

// Dial connects to a server address such as "127.0.0.1:4242".
func Dial(addr string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, eris.Wrapf(err, "dial %s", addr)
	}
	return &Client{conn: conn, buf: make([]byte, MaxDatagram)}, nil
}

// Send marshals v into an envelope and writes it.
func (c *Client) Send(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes b as-is, envelope or not.
func (c *Client) SendRaw(b []byte) error {
	_, err := c.conn.Write(b)
	return eris.Wrap(err, "write")
}

// Receive waits up to timeout for the next message.
func (c *Client) Receive(timeout time.Duration) (Inbound, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Inbound{}, eris.Wrap(err, "set deadline")
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Inbound{}, ErrReceiveTimeout
		}
		return Inbound{}, eris.Wrap(err, "read")
	}
	return Unmarshal(c.buf[:n])
}

// Await skips messages until one of type typ arrives or timeout elapses.
func (c *Client) Await(typ string, timeout time.Duration) (Inbound, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return Inbound{}, eris.Errorf("timed out waiting for %s", typ)
		}
		in, err := c.Receive(left)
		if err != nil {
			if eris.Is(err, ErrMalformedMessage) {
				continue
			}
			return Inbound{}, err
		}
		if in.Type == typ {
			return in, nil
		}
	}
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
