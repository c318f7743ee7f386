// Package channel implements the signaling connection between the
// player and the media gateway.
//
// A Channel carries JSON messages of the form {"type": ..., "value": ...}
// in text frames and raw media in binary frames.  All of its methods must
// be called from the event loop it was created with.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/jech/videortc/loop"
)

const DefaultBackoff = 15 * time.Second

type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Message struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// Text returns the value of m if it is a string.
func (m Message) Text() string {
	s, _ := m.Value.(string)
	return s
}

// Handle identifies the current consumer of binary frames.
// The zero value means that binary frames are dropped.
type Handle uint64

// Owner receives the channel's state changes and binary frames.
type Owner interface {
	Opened()
	// Closed is called whenever the channel leaves the Connecting
	// or Open state.  Explicit is true if the close was requested
	// by Disconnect.
	Closed(explicit bool)
	Route(h Handle, data []byte)
}

type ProtocolError string

func (err ProtocolError) Error() string {
	return string(err)
}

var ErrNoURL = errors.New("no endpoint configured")

type Config struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	Backoff      time.Duration
	WriteTimeout time.Duration
	Logger       logging.LeveledLogger
}

type Channel struct {
	loop   *loop.Loop
	owner  Owner
	log    logging.LeveledLogger
	dialer *websocket.Dialer
	header http.Header
	url    func() (string, error)

	backoff      time.Duration
	writeTimeout time.Duration
	now          func() time.Time

	state         State
	attempt       uint64
	connectTS     time.Time
	endpoint      string
	conn          *conn
	cancelDial    context.CancelFunc
	autoReconnect bool
	reconnect     loop.Slot
	subs          []*Subscription
	sink          Handle
}

type conn struct {
	ws     *websocket.Conn
	writeQ *loop.Queue[interface{}]
}

type closeMessage struct {
	data []byte
}

func New(l *loop.Loop, owner Owner, config Config) *Channel {
	c := &Channel{
		loop:          l,
		owner:         owner,
		log:           config.Logger,
		dialer:        config.Dialer,
		header:        config.Header,
		backoff:       config.Backoff,
		writeTimeout:  config.WriteTimeout,
		now:           time.Now,
		autoReconnect: true,
	}
	if c.log == nil {
		c.log = logging.NewDefaultLoggerFactory().NewLogger("channel")
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoff
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = 2 * time.Second
	}
	return c
}

// SetURL sets the function that yields the endpoint.  It is called
// on every connection attempt.
func (c *Channel) SetURL(f func() (string, error)) {
	c.url = f
}

func (c *Channel) State() State {
	return c.state
}

// Endpoint returns the URL of the most recent connection attempt.
func (c *Channel) Endpoint() string {
	return c.endpoint
}

// reconnectDelay returns the delay before reconnecting after a
// connection that was initiated at connectTS went away at now.
func reconnectDelay(connectTS, now time.Time, backoff time.Duration) time.Duration {
	d := backoff - now.Sub(connectTS)
	if d < 0 {
		return 0
	}
	return d
}

// Connect starts a connection attempt.  It returns false if the
// channel is already connecting or open.
func (c *Channel) Connect() bool {
	if c.state == Connecting || c.state == Open {
		return false
	}
	c.reconnect.Clear()

	c.state = Connecting
	c.connectTS = c.now()
	c.attempt++
	attempt := c.attempt

	var u string
	var err error
	if c.url == nil {
		err = ErrNoURL
	} else {
		u, err = c.url()
	}
	if err != nil {
		c.dialed(attempt, nil, err)
		return true
	}
	c.endpoint = u

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	dialer := c.dialer
	header := c.header
	go func() {
		ws, _, err := dialer.DialContext(ctx, u, header)
		ok := c.loop.Post(func() {
			c.dialed(attempt, ws, err)
		})
		if !ok && ws != nil {
			ws.Close()
		}
	}()
	return true
}

func (c *Channel) dialed(attempt uint64, ws *websocket.Conn, err error) {
	if attempt != c.attempt || c.state != Connecting {
		if ws != nil {
			ws.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if err != nil {
		c.log.Warnf("connect: %v", err)
		c.state = Closed
		c.owner.Closed(false)
		c.scheduleReconnect()
		return
	}

	cn := &conn{
		ws:     ws,
		writeQ: loop.NewQueue[interface{}](),
	}
	c.conn = cn
	c.state = Open
	go c.reader(attempt, ws)
	go writer(ws, cn.writeQ, c.writeTimeout)
	c.log.Debugf("connected to %v", c.endpoint)
	c.owner.Opened()
}

func (c *Channel) reader(attempt uint64, ws *websocket.Conn) {
	for {
		tpe, data, err := ws.ReadMessage()
		if err != nil {
			c.loop.Post(func() {
				c.lost(attempt, err)
			})
			return
		}
		switch tpe {
		case websocket.TextMessage:
			var m Message
			err := json.Unmarshal(data, &m)
			if err != nil {
				c.log.Warnf("%v", ProtocolError(
					"couldn't parse message: "+err.Error(),
				))
				continue
			}
			c.loop.Post(func() {
				c.dispatch(attempt, m)
			})
		case websocket.BinaryMessage:
			c.loop.Post(func() {
				c.route(attempt, data)
			})
		}
	}
}

func writer(ws *websocket.Conn, q *loop.Queue[interface{}], timeout time.Duration) {
	defer ws.Close()

	for range q.Ch {
		for _, m := range q.Get() {
			err := ws.SetWriteDeadline(time.Now().Add(timeout))
			if err != nil {
				return
			}
			switch m := m.(type) {
			case Message:
				err = ws.WriteJSON(m)
			case closeMessage:
				if m.data != nil {
					ws.WriteMessage(websocket.CloseMessage, m.data)
				}
				return
			}
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) closeConn(code int) {
	if c.conn == nil {
		return
	}
	c.conn.writeQ.Put(closeMessage{
		data: websocket.FormatCloseMessage(code, ""),
	})
	c.conn = nil
}

// lost is called when the connection of the given attempt went away
// without the caller asking for it.
func (c *Channel) lost(attempt uint64, err error) {
	if attempt != c.attempt || c.state != Open {
		return
	}
	c.log.Infof("connection lost: %v", err)
	c.attempt++
	c.closeConn(websocket.CloseGoingAway)
	c.state = Closed
	c.sink = 0
	c.owner.Closed(false)
	c.scheduleReconnect()
}

// Drop closes the connection as if it had failed: the owner is notified
// and a reconnection is scheduled.
func (c *Channel) Drop(err error) {
	if c.state != Open {
		return
	}
	c.lost(c.attempt, err)
}

// Disconnect closes the channel and cancels any pending reconnection.
// It is idempotent.
func (c *Channel) Disconnect() {
	c.reconnect.Clear()
	prev := c.state
	if prev == Idle || prev == Closed {
		return
	}
	c.attempt++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.closeConn(websocket.CloseNormalClosure)
	c.state = Closed
	c.sink = 0
	c.owner.Closed(true)
}

func (c *Channel) scheduleReconnect() {
	if !c.autoReconnect {
		return
	}
	d := reconnectDelay(c.connectTS, c.now(), c.backoff)
	c.log.Debugf("reconnecting in %v", d)
	c.reconnect.Set(c.loop, d, func() {
		c.Connect()
	})
}

// SetAutoReconnect controls whether an unexpected close schedules a
// reconnection.  Disabling it does not cancel a pending reconnection.
func (c *Channel) SetAutoReconnect(v bool) {
	c.autoReconnect = v
}

// CancelReconnect cancels a pending reconnection and reports whether
// there was one.
func (c *Channel) CancelReconnect() bool {
	return c.reconnect.Clear()
}

func (c *Channel) ReconnectPending() bool {
	return c.reconnect.Pending()
}

// Send queues m for transmission.  Messages sent while the channel is
// not open are dropped.
func (c *Channel) Send(m Message) bool {
	if c.state != Open || c.conn == nil {
		return false
	}
	c.conn.writeQ.Put(m)
	return true
}

// SetSink directs binary frames to h.
func (c *Channel) SetSink(h Handle) {
	c.sink = h
}

// ClearSink stops routing binary frames to h.  It does nothing if h
// is not the current sink.
func (c *Channel) ClearSink(h Handle) {
	if c.sink == h {
		c.sink = 0
	}
}

func (c *Channel) Sink() Handle {
	return c.sink
}

func (c *Channel) route(attempt uint64, data []byte) {
	if attempt != c.attempt || c.state != Open {
		return
	}
	if c.sink == 0 {
		return
	}
	c.owner.Route(c.sink, data)
}
