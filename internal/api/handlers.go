package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// keyView is the JSON form of a state slot address.
type keyView struct {
	Module   string `json:"module"`
	Category string `json:"category"`
	Index    uint8  `json:"index"`
}

func newKeyView(k state.Key) keyView {
	return keyView{Module: k.Module.String(), Category: k.Category.String(), Index: k.Index}
}

// slotView is one state slot in API responses and WebSocket events.
type slotView struct {
	keyView
	Reading   float64   `json:"reading"`
	NoData    bool      `json:"no_data"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func newSlotView(k state.Key, v state.Value) slotView {
	return slotView{
		keyView:   newKeyView(k),
		Reading:   v.Reading,
		NoData:    v.NoData,
		UpdatedAt: v.UpdatedAt.UTC(),
	}
}

// registrationView is one registered sensor and the slots it writes.
type registrationView struct {
	Type   string    `json:"type"`
	Index  uint8     `json:"index"`
	States []keyView `json:"states"`
}

func newRegistrationView(r registry.Registration) registrationView {
	keys := r.States.Keys()
	states := make([]keyView, len(keys))
	for i, k := range keys {
		states[i] = newKeyView(k)
	}
	return registrationView{Type: r.Type.String(), Index: r.Index, States: states}
}

// handleListRegistrations returns every registered sensor.
func (s *Server) handleListRegistrations(w http.ResponseWriter, _ *http.Request) {
	regs := s.registry.List()
	out := make([]registrationView, len(regs))
	for i, r := range regs {
		out[i] = newRegistrationView(r)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"registrations": out,
		"count":         len(out),
	})
}

// handleListStates returns every state slot plus the presence of display
// and execution modules.
func (s *Server) handleListStates(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	out := make([]slotView, len(snap))
	for i, slot := range snap {
		out[i] = newSlotView(slot.Key, slot.Value)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"states":  out,
		"modules": s.store.Modules(),
		"count":   len(out),
	})
}

// handleListLines returns the status of every bus line.
func (s *Server) handleListLines(w http.ResponseWriter, _ *http.Request) {
	lines := []line.Status{}
	if s.lines != nil {
		lines = s.lines.Lines()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}

// actuatorView is the JSON form of the actuator table.
type actuatorView struct {
	Windows    uint32              `json:"windows"`
	Water      uint8               `json:"water"`
	Light      uint8               `json:"light"`
	Pins       []int               `json:"pins"`
	Thresholds actuator.Thresholds `json:"thresholds"`
}

// handleGetActuators returns the actuator table and window thresholds.
func (s *Server) handleGetActuators(w http.ResponseWriter, r *http.Request) {
	if s.actuators == nil {
		writeError(w, r, http.StatusServiceUnavailable, "actuator table unavailable")
		return
	}

	st := s.actuators.State()
	pins := make([]int, len(st.Pins))
	for i, p := range st.Pins {
		pins[i] = int(p)
	}
	writeJSON(w, http.StatusOK, actuatorView{
		Windows:    st.Windows,
		Water:      st.Water,
		Light:      st.Light,
		Pins:       pins,
		Thresholds: s.actuators.Thresholds(),
	})
}
