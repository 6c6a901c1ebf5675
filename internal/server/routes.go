package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BioHazard786/ShareAudio/internal/relay"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Browser listeners connect from the webapp origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns a handler that upgrades the request and hands the
// connection to hub.
func ServeWs(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade", "addr", c.ClientIP(), "err", err)
			return
		}

		client := relay.NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		// These methods will handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}

// NewRouter wires the relay endpoints. Metrics are served from gatherer.
func NewRouter(hub *relay.Hub, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", ServeWs(hub))

	return r
}
