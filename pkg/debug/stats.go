package debug

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
)

// StatsPath is where the statistics page is served.
const StatsPath = "/debug/statsview"

// StatsServer serves runtime charts and pprof on a local address.
type StatsServer struct {
	addr string
	mgr  *statsview.ViewManager
}

// StartStats launches the statistics server on addr in the background.
func StartStats(addr string, log *slog.Logger) *StatsServer {
	viewer.SetConfiguration(viewer.WithAddr(addr))
	s := &StatsServer{addr: addr, mgr: statsview.New()}
	go func() {
		if err := s.mgr.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("stats server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("stats server available", "url", s.URL())
	return s
}

// URL is the address of the statistics page.
func (s *StatsServer) URL() string {
	return "http://" + s.addr + StatsPath
}

// Stop shuts the server down.
func (s *StatsServer) Stop() {
	s.mgr.Stop()
}
