package approval

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"steward/pkg/logging"
)

const (
	writeTimeout = 10 * time.Second

	// sendQueueSize is how many frames may wait for a slow client before it
	// is disconnected.
	sendQueueSize = 64
)

var (
	errPeerClosed = errors.New("client connection closed")
	errPeerSlow   = errors.New("client is not reading its frames")
)

// peer is one connected websocket client. Frames are queued and written by a
// single goroutine in the order they were sent, so send never waits on the
// network.
type peer struct {
	write     func(v any) error
	closeConn func() error

	out       chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn) *peer {
	return startPeer(func(v any) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return websocket.JSON.Send(conn, v)
	}, conn.Close)
}

func startPeer(write func(v any) error, closeConn func() error) *peer {
	p := &peer{
		write:     write,
		closeConn: closeConn,
		out:       make(chan any, sendQueueSize),
		done:      make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// send queues v behind the frames sent before it. A client whose queue is full
// is disconnected.
func (p *peer) send(v any) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}

	select {
	case p.out <- v:
		return nil
	case <-p.done:
		return errPeerClosed
	default:
		p.close()
		return errPeerSlow
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case v := <-p.out:
			if err := p.write(v); err != nil {
				logging.Debug("Approval", "Dropping client after failed write: %v", err)
				p.close()
				return
			}
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.closeConn()
	})
}
