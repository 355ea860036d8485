package serve

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"firewatch/notify"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// StatusUpdater pushes a short "update" message to connected websockets
// whenever the stream set changes or an alert fires, so clients know to
// refresh. It implements stream.Listener and notify.NotifyListener.
type StatusUpdater struct {
	upgrader websocket.Upgrader
	cs       map[chan bool]bool
	addc     chan chan bool
	delc     chan chan bool
	notify   chan bool
}

func NewStatusUpdater() *StatusUpdater {
	u := &StatusUpdater{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:     make(map[chan bool]bool),
		addc:   make(chan chan bool),
		delc:   make(chan chan bool),
		notify: make(chan bool),
	}
	go func() {
		for {
			select {
			case c := <-u.addc:
				u.cs[c] = true
			case c := <-u.delc:
				delete(u.cs, c)
			case <-u.notify:
				// Non-blocking: a client mid-disconnect must not wedge the
				// fan-out, and a missed hint is harmless.
				for k := range u.cs {
					select {
					case k <- true:
					default:
					}
				}
			}
		}
	}()
	return u
}

func (u *StatusUpdater) StreamsUpdated() {
	u.notify <- true
}

func (u *StatusUpdater) Notify(n *notify.Notification) error {
	u.notify <- true
	return nil
}

func (u *StatusUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for status stream: %v", err)
		}
		return
	}
	go u.serve(ws)
}

func (u *StatusUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to status update socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from status update socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	notifyc := make(chan bool)
	u.addc <- notifyc
	defer func() { u.delc <- notifyc }()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				ws.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-notifyc:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte("update")); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
