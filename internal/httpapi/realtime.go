package httpapi

import (
	"log/slog"
	"net/http"

	"qms/token-service/internal/events"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const clientBuffer = 16

// NewRealtimeHandler serves the display feed under /realtime. Clients send
// {"action":"subscribe","queue_prefix":"A"} to narrow the feed to one queue;
// until then they receive every queue.
func NewRealtimeHandler(hub *events.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &events.Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
		hub.Register(client)
		defer hub.Unregister(client)
		logger.Debug("display client connected", "client_id", client.ID)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				logger.Debug("display client disconnected", "client_id", client.ID)
				return
			}
			parsed, ok := events.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				hub.UpdateSubscription(client, "")
				continue
			}
			hub.UpdateSubscription(client, parsed.QueuePrefix)
		}
	})
}
