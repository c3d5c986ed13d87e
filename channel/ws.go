package channel

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser frontend runs on a different origin; auth happens upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a websocket, attaches a subscriber to the
// review's room, and immediately acknowledges with a connected event before
// streaming updates.
func ServeWS(hub *Hub, reviewID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ServeWS] Upgrade failed for review %s: %v", reviewID, err)
		return err
	}

	sub := hub.Subscribe(reviewID)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Event{Type: EventConnected}); err != nil {
		log.Printf("[ServeWS] Failed to send connected greeting: %v", err)
		hub.Unsubscribe(sub)
		conn.Close()
		return err
	}

	go writePump(hub, sub, conn)
	go readPump(hub, sub, conn)
	return nil
}

// writePump drains the subscriber's event channel onto the wire and sends
// keepalive pings. Any write error detaches the subscriber; persisted cell
// state is never affected by a delivery failure.
func writePump(hub *Hub, sub *Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[ServeWS] Write error on review %s: %v", sub.ReviewID(), err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames so pongs are processed and disconnects
// are noticed.
func readPump(hub *Hub, sub *Subscriber, conn *websocket.Conn) {
	defer func() {
		hub.Unsubscribe(sub)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
