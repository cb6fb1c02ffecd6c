package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/itohio/wattmeter/pkg/frontend"
	"github.com/itohio/wattmeter/pkg/meter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Controller executes maintenance commands on the acquisition task.
type Controller interface {
	Status() frontend.Status
	SetRange(ctx context.Context, input string, index int) error
	CalibrateZeros(ctx context.Context) error
	CalibrateFactors(ctx context.Context, reference float32) error
}

// MeasuresSource returns the latest published snapshot.
type MeasuresSource interface {
	Latest() (meter.CalculatedMeasures, bool)
}

// Handler serves the websocket stream and the HTTP API.
type Handler struct {
	hub       *Hub
	ctrl      Controller
	measures  MeasuresSource
	reference float32
}

// NewHandler creates a handler. reference is the default voltage used for
// factor calibration.
func NewHandler(hub *Hub, ctrl Controller, measures MeasuresSource, reference float32) *Handler {
	return &Handler{
		hub:       hub,
		ctrl:      ctrl,
		measures:  measures,
		reference: reference,
	}
}

// NewRouter routes the stream and API endpoints.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.HandleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/measures", h.HandleMeasures)
		r.Get("/ranges", h.HandleRanges)
		r.Put("/ranges/{input}", h.HandleSetRange)
		r.Post("/calibrate/zeros", h.HandleCalibrateZeros)
		r.Post("/calibrate/factors", h.HandleCalibrateFactors)
	})

	return r
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(h.hub, conn)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// HandleMeasures returns the latest snapshot, or 204 before the first one.
func (h *Handler) HandleMeasures(w http.ResponseWriter, r *http.Request) {
	m, ok := h.measures.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleRanges returns the range state of both inputs.
func (h *Handler) HandleRanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// HandleSetRange pins the range given by the index query parameter.
// "auto" re-enables auto-ranging.
func (h *Handler) HandleSetRange(w http.ResponseWriter, r *http.Request) {
	input := chi.URLParam(r, "input")
	status := h.ctrl.Status()

	var ranges int
	switch input {
	case status.Voltage.Name:
		ranges = len(status.Voltage.Zeros)
	case status.Current.Name:
		ranges = len(status.Current.Zeros)
	default:
		writeError(w, http.StatusNotFound, "unknown input "+strconv.Quote(input))
		return
	}

	index := ranges
	if q := r.URL.Query().Get("index"); q != "auto" {
		i, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid range index")
			return
		}
		index = i
	}

	if err := h.ctrl.SetRange(r.Context(), input, index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// HandleCalibrateZeros measures the zeros of both inputs. The inputs must
// be shorted.
func (h *Handler) HandleCalibrateZeros(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.CalibrateZeros(r.Context()); err != nil {
		log.Printf("Zero calibration failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// HandleCalibrateFactors derives the voltage scale factors from the
// reference query parameter, or the configured reference.
func (h *Handler) HandleCalibrateFactors(w http.ResponseWriter, r *http.Request) {
	reference := h.reference
	if q := r.URL.Query().Get("reference"); q != "" {
		v, err := strconv.ParseFloat(q, 32)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid reference")
			return
		}
		reference = float32(v)
	}

	if err := h.ctrl.CalibrateFactors(r.Context(), reference); err != nil {
		log.Printf("Factor calibration failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
