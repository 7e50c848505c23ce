package route

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jhunt/go-log"
)

type WebSocket struct {
	conn     *websocket.Conn
	settings WebSocketSettings
}

type WebSocketSettings struct {
	WriteTimeout time.Duration
}

func (r *Request) Upgrade(settings WebSocketSettings) *WebSocket {
	log.Debugf("%s upgrading to WebSockets", r)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(r.w, r.Req, nil)
	if err != nil {
		r.Fail(Oops(err, "an unknown error has occurred"))
		return nil
	}

	r.done = true
	return &WebSocket{
		conn:     conn,
		settings: settings,
	}
}

func (ws *WebSocket) Discard(onclose func()) {
	for {
		if _, _, err := ws.conn.NextReader(); err != nil {
			log.Infof("discarding message from ws client...")
			ws.conn.Close()
			break
		}
	}
	onclose()
}

func (ws *WebSocket) Write(b []byte) (bool, error) {
	err := ws.conn.SetWriteDeadline(time.Now().Add(ws.settings.WriteTimeout))
	if err != nil {
		return true, err
	}
	err = ws.conn.WriteMessage(websocket.TextMessage, b)
	return websocket.IsUnexpectedCloseError(err), err
}

func (ws *WebSocket) Ping() error {
	deadline := time.Now().Add(ws.settings.WriteTimeout)
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (ws *WebSocket) SendClose() error {
	return ws.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(ws.settings.WriteTimeout))
}
