package ws

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowClient   = errors.New("client outbound queue full")
)

// Client serializes writes to one socket. Frames queue in out; a client that
// stops draining its queue is disconnected rather than allowed to stall
// delivery to everyone else.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	out    chan []byte
	once   sync.Once
}

func NewClient(parent context.Context, ws *WebSocket, queue int) *Client {
	if queue <= 0 {
		queue = 256
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		out:    make(chan []byte, queue),
	}
	go c.writeLoop()
	return c
}

func (c *Client) Context() context.Context { return c.ctx }

// Send enqueues data without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		c.Close()
		return ErrSlowClient
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *Client) writeLoop() {
	defer c.Close()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.Ping(); err != nil {
				return
			}
		}
	}
}
