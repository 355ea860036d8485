// Package serve exposes the stream, event and device APIs over HTTP.
package serve

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Response is the envelope every API endpoint answers with.
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp *Response) {
	js, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("Failed to marshal API response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(js)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, &Response{Code: 0, Msg: "ok", Data: data})
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, &Response{Code: 0, Msg: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &Response{Code: status, Msg: msg})
}

// HealthServer answers liveness probes.
type HealthServer struct{}

func (s *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "up"})
}
