package core

import (
	"encoding/json"
	"time"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/route"
)

//v1StreamEvents relays message bus events to a websocket client, in
// wire (JSON) form.  Clients see every queue; ANVIL has no notion of
// per-user visibility, so there is nothing to scope down to.
func (c *Core) v1StreamEvents(r *route.Request) {
	socket := r.Upgrade(route.WebSocketSettings{
		WriteTimeout: time.Duration(c.Config.API.Websocket.WriteTimeout) * time.Second,
	})
	if socket == nil {
		return
	}

	log.Infof("registering message bus web client")
	ch, slot, err := c.bus.Register([]string{"*"})
	if err != nil {
		log.Errorf("unable to begin streaming events: %s", err)
		return
	}
	log.Infof("registered with message bus as [id:%d]", slot)

	closeMeSoftly := func() { c.bus.Unregister(slot) }
	go socket.Discard(closeMeSoftly)

	pingInterval := time.Duration(c.Config.API.Websocket.PingInterval) * time.Second
	pingTimer := time.NewTimer(pingInterval)
writeLoop:
	for {
		select {
		case event := <-ch:
			b, err := json.Marshal(event)
			if err != nil {
				log.Errorf("message bus web client [id:%d] failed to marshal JSON for websocket relay: %s", slot, err)
			} else {
				if done, err := socket.Write(b); done {
					log.Infof("message bus web client [id:%d] closed their end of the socket; shutting down", slot)
					closeMeSoftly()
					break writeLoop
				} else if err != nil {
					log.Errorf("message bus web client [id:%d] failed to write message to remote end: %s", slot, err)
					closeMeSoftly()
					if err := socket.SendClose(); err != nil {
						log.Warnf("message bus web client [id:%d] failed to write close message: %s", slot, err)
					}
					break writeLoop
				}
			}

			if !pingTimer.Stop() {
				<-pingTimer.C
			}
		case <-pingTimer.C:
			if err := socket.Ping(); err != nil {
				log.Infof("message bus web client [id:%d] failed to write ping: %s", slot, err)
				closeMeSoftly()
				break writeLoop
			}
		}
		pingTimer.Reset(pingInterval)
	}

	pingTimer.Stop()
	log.Infof("message bus web client [id:%d] disconnected; unregistering...", slot)
	closeMeSoftly()
}
