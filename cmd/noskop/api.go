package main

import (
	"context"
	"encoding/json"
	"io"
	stdlog "log"
	"net/http"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nsfm/noskop/input"
)

const (
	stateRate    = 4
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 64 * 1024
)

type snapshotter interface {
	Snapshot() snapshot
}

// inputFrame is a partial controller update from the input bridge.
type inputFrame struct {
	Axes    map[input.Axis]float64 `json:"axes"`
	Buttons map[input.Button]bool  `json:"buttons"`
}

type stateMessage struct {
	Type string   `json:"type"`
	Data snapshot `json:"data"`
}

type api struct {
	http.Handler
	state snapshotter
	in    *input.State
	log   zerolog.Logger

	sse      *sse.Server
	upgrader websocket.Upgrader

	mx      sync.Mutex
	clients map[*wsClient]struct{}
}

// newAPI serves the state feed and the input bridge. Broadcasting stops
// when ctx is done.
func newAPI(ctx context.Context, state snapshotter, in *input.State, log zerolog.Logger) *api {
	a := &api{
		state:   state,
		in:      in,
		log:     log.With().Str("module", "api").Logger(),
		sse:     sse.NewServer(&sse.Options{Logger: stdlog.New(io.Discard, "", 0)}),
		clients: make(map[*wsClient]struct{}),
	}
	// controller pages are served from elsewhere
	a.upgrader.CheckOrigin = func(*http.Request) bool { return true }

	r := mux.NewRouter()
	a.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		r.ServeHTTP(w, req)
	})

	r.HandleFunc("/api/state", a.getState).Methods("GET")
	r.HandleFunc("/ws", a.stateSocket).Methods("GET")
	r.HandleFunc("/ws/input", a.inputSocket).Methods("GET")
	r.PathPrefix("/events/").Handler(a.sse)

	go a.broadcast(ctx)
	return a
}

func (a *api) getState(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.state.Snapshot()); err != nil {
		a.log.Error().Err(err).Msg("encode state")
	}
}

func (a *api) broadcast(ctx context.Context) {
	t := time.NewTicker(time.Second / stateRate)
	defer t.Stop()
	defer a.sse.Shutdown()
	for {
		select {
		case <-ctx.Done():
			a.closeClients()
			return
		case <-t.C:
		}

		snap := a.state.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			a.log.Error().Err(err).Msg("marshal state")
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))

		a.mx.Lock()
		for c := range a.clients {
			c.send(stateMessage{Type: "state", Data: snap})
		}
		a.mx.Unlock()
	}
}

func (a *api) closeClients() {
	a.mx.Lock()
	defer a.mx.Unlock()
	for c := range a.clients {
		c.close()
		delete(a.clients, c)
	}
}

func (a *api) stateSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := newWSClient(conn, a.log)

	a.mx.Lock()
	a.clients[c] = struct{}{}
	a.mx.Unlock()
	a.log.Debug().Str("remote", req.RemoteAddr).Msg("state client connected")

	go c.writePump()
	// only control frames are expected
	c.readPump(func([]byte) {})

	a.mx.Lock()
	delete(a.clients, c)
	a.mx.Unlock()
	c.close()
}

// inputSocket applies controller frames to the input state. Every control
// is released when the bridge disconnects so the stage can't run away.
func (a *api) inputSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := newWSClient(conn, a.log)
	a.log.Info().Str("remote", req.RemoteAddr).Msg("input connected")

	go c.writePump()
	c.readPump(func(data []byte) {
		var f inputFrame
		if err := json.Unmarshal(data, &f); err != nil {
			a.log.Warn().Err(err).Msg("bad input frame")
			return
		}
		a.apply(f)
	})

	c.close()
	a.in.Reset()
	a.log.Info().Str("remote", req.RemoteAddr).Msg("input disconnected")
}

func (a *api) apply(f inputFrame) {
	for ax, v := range f.Axes {
		if err := a.in.SetAxis(ax, v); err != nil {
			a.log.Warn().Err(err).Msg("input")
		}
	}
	for b, pressed := range f.Buttons {
		if err := a.in.SetButton(b, pressed); err != nil {
			a.log.Warn().Err(err).Msg("input")
		}
	}
}

type wsClient struct {
	conn *websocket.Conn
	log  zerolog.Logger

	out       chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, log zerolog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		log:  log,
		out:  make(chan interface{}, 16),
		done: make(chan struct{}),
	}
}

// send drops msg if the client is not keeping up.
func (c *wsClient) send(msg interface{}) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump(onMessage func([]byte)) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		onMessage(data)
	}
}

func (c *wsClient) writePump() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write")
				return
			}
		case <-t.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
