package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mototaxi/internal/events"
	"mototaxi/internal/service"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are governed by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, f events.Filter) (*events.Subscription, error)
}

// StreamMessage is one frame pushed to a websocket client.
type StreamMessage struct {
	Type   string          `json:"type"`
	Ride   *RideResponse   `json:"ride,omitempty"`
	Offers []OfferResponse `json:"offers,omitempty"`
	At     string          `json:"at"`
}

const (
	messageSnapshot = "snapshot"
	messageOffers   = "offers"
)

// StreamHandler pushes ride changes to passengers and offers to drivers.
type StreamHandler struct {
	bus          Subscriber
	rideService  *service.RideService
	offerService *service.OfferService
	log          *slog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(bus Subscriber, rideService *service.RideService, offerService *service.OfferService, log *slog.Logger) *StreamHandler {
	return &StreamHandler{
		bus:          bus,
		rideService:  rideService,
		offerService: offerService,
		log:          log,
	}
}

// RideEvents handles GET /v1/rides/:id/events (websocket). The stream starts
// with the current ride and ends once the ride reaches a terminal status.
func (h *StreamHandler) RideEvents(c *gin.Context) {
	rideID := c.Param("id")

	// Subscribe before reading the snapshot so no change falls in between.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sub, err := h.bus.Subscribe(ctx, events.Filter{RideID: rideID})
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	ride, err := h.rideService.GetRide(ctx, rideID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", "ride_id", rideID, "error", err)
		return
	}
	defer conn.Close()
	go readPump(conn, cancel)

	snapshot := toRideResponse(ride)
	if err := writeMessage(conn, StreamMessage{Type: messageSnapshot, Ride: &snapshot}); err != nil {
		return
	}
	if ride.Status.IsTerminal() {
		closeNormally(conn)
		return
	}

	h.log.Info("ws_ride_connected", "ride_id", rideID)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Ride == nil {
				continue
			}
			resp := toRideResponse(ev.Ride)
			if err := writeMessage(conn, StreamMessage{Type: string(ev.Type), Ride: &resp}); err != nil {
				return
			}
			if ev.Ride.Status.IsTerminal() {
				closeNormally(conn)
				return
			}
		}
	}
}

// DriverOffers handles GET /v1/drivers/:id/offers/stream (websocket). Every
// change concerning the driver re-sends the full list of live offers; rides
// assigned to the driver are forwarded as they change.
func (h *StreamHandler) DriverOffers(c *gin.Context) {
	driverID := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sub, err := h.bus.Subscribe(ctx, events.Filter{DriverID: driverID})
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	offers, err := h.offerService.PendingOffers(ctx, driverID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws_upgrade_failed", "driver_id", driverID, "error", err)
		return
	}
	defer conn.Close()
	go readPump(conn, cancel)

	if err := writeMessage(conn, StreamMessage{Type: messageOffers, Offers: toOfferResponses(offers)}); err != nil {
		return
	}

	h.log.Info("ws_driver_connected", "driver_id", driverID)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writePing(conn); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Ride != nil && ev.Ride.DriverID == driverID {
				resp := toRideResponse(ev.Ride)
				if err := writeMessage(conn, StreamMessage{Type: string(ev.Type), Ride: &resp}); err != nil {
					return
				}
			}
			offers, err := h.offerService.PendingOffers(ctx, driverID)
			if err != nil {
				h.log.Warn("ws_offers_refresh_failed", "driver_id", driverID, "error", err)
				continue
			}
			if err := writeMessage(conn, StreamMessage{Type: messageOffers, Offers: toOfferResponses(offers)}); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and
// cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	msg.At = formatTime(time.Now())
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

func writePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ride ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
