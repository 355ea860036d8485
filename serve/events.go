package serve

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"firewatch/notify"
)

// EventServer lists past alerts and serves their snapshots. History and
// Snapshots are each optional; a disabled half just reports empty.
type EventServer struct {
	History   *notify.History
	Snapshots *notify.SnapshotStore
}

func (s *EventServer) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/events", s.handleList)
	mux.HandleFunc("/api/events/delete", s.handleDelete)
	mux.HandleFunc("/api/events/snapshot", s.handleSnapshot)
}

func (s *EventServer) handleList(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if v := r.Form.Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
	}

	events := []notify.EventRecord{}
	if s.History != nil {
		var err error
		if events, err = s.History.Recent(limit); err != nil {
			log.Errorf("Failed to read event history: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	snaps := []notify.Snapshot{}
	if s.Snapshots != nil {
		var err error
		if snaps, err = s.Snapshots.List(); err != nil {
			log.Errorf("Failed to list snapshots: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeOK(w, map[string]interface{}{
		"events":    events,
		"snapshots": snaps,
	})
}

func (s *EventServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if name := r.Form.Get("snapshot"); name != "" && s.Snapshots != nil {
		if err := s.Snapshots.Delete(name); err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("No snapshot found for %v", name))
			return
		}
		writeOK(w, nil)
		return
	}

	if s.History == nil {
		writeError(w, http.StatusBadRequest, "event history is disabled")
		return
	}
	id, err := strconv.Atoi(r.Form.Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid id")
		return
	}
	if err := s.History.Delete(uint(id)); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No event found for id %v", id))
		return
	}
	writeOK(w, nil)
}

func (s *EventServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.Snapshots == nil {
		writeError(w, http.StatusNotFound, "snapshots are disabled")
		return
	}

	name := r.Form.Get("name")
	path, err := s.Snapshots.Path(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No snapshot found for %v", name))
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", "image/jpeg")
	io.Copy(w, f)
}
