package serve

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"firewatch/stream"
)

const boundaryWord = "frame"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"\r\n"

// StreamServer exposes stream admission, teardown, listing and the live
// MJPEG feeds.
type StreamServer struct {
	Registry *stream.Registry
}

func (s *StreamServer) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/streams", s.handleList)
	mux.HandleFunc("/api/streams/start", s.handleStart)
	mux.HandleFunc("/api/streams/stop", s.handleStop)
	mux.HandleFunc("/api/streams/feed", s.handleFeed)
}

type startedStream struct {
	stream.Info
	FeedURL string `json:"feed_url"`
}

func (s *StreamServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src := r.Form.Get("source")
	if src == "" {
		writeError(w, http.StatusBadRequest, "missing source")
		return
	}

	lifetime := time.Duration(0)
	if v := r.Form.Get("lifetime"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid lifetime %q", v))
			return
		}
		lifetime = time.Duration(minutes) * time.Minute
		if minutes < 0 {
			lifetime = -time.Minute
		}
	}

	info, err := s.Registry.Start(src, lifetime)
	switch {
	case err == nil:
	case stream.IsBusy(err):
		writeError(w, http.StatusServiceUnavailable, "all accelerators are busy, try again later")
		return
	case errors.Is(err, stream.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	default:
		log.Errorf("Failed to start stream for source %v: %v", src, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeCreated(w, &startedStream{
		Info:    info,
		FeedURL: "/api/streams/feed?id=" + info.ID,
	})
}

func (s *StreamServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "Invalid request method")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.Form.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.Registry.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No stream found for id %v", id))
		return
	}
	writeOK(w, nil)
}

func (s *StreamServer) handleList(w http.ResponseWriter, r *http.Request) {
	infos := s.Registry.List()
	writeOK(w, map[string]interface{}{
		"streams": infos,
		"count":   len(infos),
	})
}

// handleFeed relays the stream's frames as multipart JPEG until the stream
// ends or the client goes away. The frames come from the stream's single
// output buffer, so the feed is meant for one consumer at a time. A client
// disconnect stops the stream, the same as an explicit stop request.
func (s *StreamServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := r.Form.Get("id")
	feed, err := s.Registry.Feed(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No stream found for id %v", id))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clog := log.WithField("addr", r.RemoteAddr)
	clog.Infof("Feed connected to stream %v", id)

	ended := false
	defer func() {
		if ended {
			clog.Infof("Feed for stream %v ended", id)
			return
		}
		clog.Infof("Feed client disconnected, stopping stream %v", id)
		if err := s.Registry.Stop(id); err != nil && !errors.Is(err, stream.ErrNotFound) {
			clog.Warnf("Stopping stream %v: %v", id, err)
		}
	}()

	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	for {
		select {
		case b := <-feed:
			if b == nil {
				ended = true
				return
			}
			if _, err := fmt.Fprintf(w, headerf, len(b)); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
