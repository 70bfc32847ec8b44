package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxLineBytes bounds a single message. Paths and log meta are small; a
// runaway line indicates a broken peer.
const maxLineBytes = 1 << 20

// Conn is a JSON Lines message stream bound to one side of the channel.
// Send is safe for concurrent use; Receive must be called from one goroutine.
type Conn struct {
	side   Side
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	encoder *json.Encoder

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps c for the given side.
func NewConn(c net.Conn, side Side) *Conn {
	return &Conn{
		side:    side,
		conn:    c,
		reader:  bufio.NewReaderSize(c, 64*1024),
		encoder: json.NewEncoder(c),
	}
}

// Send writes msg as a single line after checking this side may send it.
func (c *Conn) Send(msg Message) error {
	if err := msg.Validate(c.side); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.encoder.Encode(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Receive reads the next message from the peer. It returns io.EOF when the
// peer closed the connection cleanly.
func (c *Conn) Receive() (Message, error) {
	line, err := c.readLine()
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: decode message: %v", ErrProtocol, err)
	}
	peer := Helper
	if c.side == Helper {
		peer = Host
	}
	if err := msg.Validate(peer); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrProtocol, maxLineBytes)
		}
		if !isPrefix {
			if len(line) == 0 {
				continue
			}
			return line, nil
		}
	}
}

// SetReadDeadline bounds the next Receive calls. A zero t clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Sender is the write half of a Conn.
type Sender interface {
	Send(msg Message) error
}
