package comm

import (
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait       = 5 * time.Second
	maxMessageBytes = 1 << 20
)

// peer owns one websocket connection. All writes go through a single
// write goroutine fed by a bounded queue.
type peer struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

func newPeer(conn *ws.Conn, queue int, log zerolog.Logger) *peer {
	conn.SetReadLimit(maxMessageBytes)
	p := &peer{
		conn:   conn,
		sendCh: make(chan []byte, queue),
		done:   make(chan struct{}),
		log:    log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	go p.writeLoop()
	return p
}

// enqueue hands data to the write loop without blocking. It reports false
// when the queue is full or the peer is closed.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.sendCh <- data:
		return true
	default:
		return false
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.sendCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.log.Debug().Err(err).Msg("set write deadline")
				p.close()
				return
			}
			if err := p.conn.WriteMessage(ws.TextMessage, data); err != nil {
				p.log.Debug().Err(err).Msg("write failed")
				p.close()
				return
			}
		}
	}
}

// readLoop delivers every inbound frame to handle until the connection
// fails or is closed.
func (p *peer) readLoop(handle func([]byte)) {
	defer p.close()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					p.log.Debug().Err(err).Msg("read failed")
				}
			}
			return
		}
		if handle != nil {
			handle(data)
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = p.conn.Close()
	})
}

func (p *peer) closed() <-chan struct{} { return p.done }
