package serve

import (
	"net/http"

	"firewatch/device"
)

// DeviceServer answers device health queries from the monitor's last
// sample.
type DeviceServer struct {
	Monitor *device.Monitor
}

func (s *DeviceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.Monitor.Snapshot())
}
