package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"denuncia-service/feed"
	"denuncia-service/geo"
	"denuncia-service/models"
	ws "denuncia-service/websocket"
)

// maxMapPoints caps viewport queries for the clustering endpoint
const maxMapPoints = 10000

// WebSocket upgrader
var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

func parseCoord(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func locationError(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"ok":             false,
		"type":           "LOCATION_ERROR",
		"location_error": true,
		"message":        "valid latitude and longitude are required",
	})
}

// GetFeed handles GET /api/v3/feed, a one-shot geofenced fetch of nearby
// public cases. Distinguishes a location failure (client should re-request
// permissions) from a backend failure (client should offer retry).
func (h *Handlers) GetFeed(c *gin.Context) {
	lat, okLat := parseCoord(c, "latitude")
	lon, okLon := parseCoord(c, "longitude")
	if !okLat || !okLon {
		locationError(c)
		return
	}

	s := feed.NewSynchronizer(h.store, h.feedOpts)
	defer s.Close()

	snapshot, err := s.InitialLoad(c.Request.Context(), lat, lon)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":            false,
			"type":          "NETWORK_ERROR",
			"network_error": true,
			"message":       "failed to load nearby reports",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"items":    snapshot.Items,
		"count":    snapshot.Count,
		"has_more": snapshot.HasMore,
	})
}

// GetFeedMap handles GET /api/v3/feed/map, clustering public cases inside a
// viewport for map rendering.
func (h *Handlers) GetFeedMap(c *gin.Context) {
	latMin, ok1 := parseCoord(c, "latmin")
	lonMin, ok2 := parseCoord(c, "lonmin")
	latMax, ok3 := parseCoord(c, "latmax")
	lonMax, ok4 := parseCoord(c, "lonmax")
	if !ok1 || !ok2 || !ok3 || !ok4 || latMin >= latMax || lonMin >= lonMax {
		locationError(c)
		return
	}

	vp := geo.Viewport{LatMin: latMin, LonMin: lonMin, LatMax: latMax, LonMax: lonMax}
	box := geo.BoundingBox{MinLat: latMin, MaxLat: latMax, MinLon: lonMin, MaxLon: lonMax}
	since := time.Now().Add(-h.feedOpts.MaxAge)

	items, err := h.store.GetPublicInBox(c.Request.Context(), box, since, maxMapPoints)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":            false,
			"type":          "NETWORK_ERROR",
			"network_error": true,
			"message":       "failed to load map data",
		})
		return
	}

	points := make([]geo.MapPoint, 0, len(items))
	for _, it := range items {
		points = append(points, geo.MapPoint{
			ID:        it.ID,
			Latitude:  it.Latitude,
			Longitude: it.Longitude,
		})
	}

	clusters := geo.ClusterViewport(vp, points)

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"clusters": clusters,
		"count":    len(clusters),
	})
}

// ListenChanges handles GET /api/v3/changes/listen, the unfiltered firehose
// of public feed events for dashboards.
func (h *Handlers) ListenChanges(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// feedCommand is what a feed session client may send back
type feedCommand struct {
	Action string `json:"action"`
}

// ListenFeed handles GET /api/v3/feed/listen: per-session geofenced feed.
// The session performs the initial bounded load, then subscribes to the
// change stream and pushes deltas. The client may send
// {"action":"load_all"} and {"action":"show_less"}.
func (h *Handlers) ListenFeed(c *gin.Context) {
	lat, okLat := parseCoord(c, "latitude")
	lon, okLon := parseCoord(c, "longitude")
	if !okLat || !okLon {
		locationError(c)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	session := feed.NewSynchronizer(h.store, h.feedOpts)
	fc := &feedConn{conn: conn}

	snapshot, err := session.InitialLoad(c.Request.Context(), lat, lon)
	if err != nil {
		fc.write("error", gin.H{"network_error": true})
		conn.Close()
		return
	}
	fc.write("snapshot", snapshot)

	// Subscribe only after the initial load so the geofence center is fixed
	subID, events := h.listener.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if session.ApplyEvent(ev) {
				fc.write("snapshot", session.Snapshot())
			}
		}
	}()

	h.readFeedCommands(fc, session)

	// Exactly-once teardown: unsubscribe closes the event channel, which
	// stops the push goroutine above.
	h.listener.Unsubscribe(subID)
	<-done
	session.Close()
	conn.Close()
}

// readFeedCommands blocks on the client side of the session socket until it
// disconnects.
func (h *Handlers) readFeedCommands(fc *feedConn, session *feed.Synchronizer) {
	fc.conn.SetReadLimit(512)
	for {
		var cmd feedCommand
		if err := fc.conn.ReadJSON(&cmd); err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseAbnormalClosure, gorilla.CloseNormalClosure) {
				log.WithError(err).Warn("Feed session read error")
			}
			return
		}

		switch cmd.Action {
		case "load_all":
			snapshot, err := session.LoadAll(context.Background())
			if err != nil {
				fc.write("error", gin.H{"network_error": true})
				continue
			}
			fc.write("snapshot", snapshot)
		case "show_less":
			fc.write("snapshot", session.ShowLess())
		default:
			log.Warnf("Ignoring unknown feed action %q", cmd.Action)
		}
	}
}

// feedConn serializes writes from the command loop and the event push
// goroutine onto one connection.
type feedConn struct {
	conn *gorilla.Conn
	mu   sync.Mutex
}

func (fc *feedConn) write(msgType string, data interface{}) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := fc.conn.WriteJSON(models.BroadcastMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}); err != nil {
		log.WithError(err).Warn("Failed to write feed message")
	}
}
