package devserver

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	joins          atomic.Uint64
	joinRejections atomic.Uint64
	messages       atomic.Uint64
	rateLimited    atomic.Uint64
	activeConns    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncJoin()          { m.joins.Add(1) }
func (m *Metrics) IncJoinRejection() { m.joinRejections.Add(1) }
func (m *Metrics) IncMessage()       { m.messages.Add(1) }
func (m *Metrics) IncRateLimited()   { m.rateLimited.Add(1) }
func (m *Metrics) IncConn()          { m.activeConns.Add(1) }
func (m *Metrics) DecConn()          { m.activeConns.Add(-1) }

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"joins_total":           m.joins.Load(),
		"join_rejections_total": m.joinRejections.Load(),
		"messages_total":        m.messages.Load(),
		"rate_limited_total":    m.rateLimited.Load(),
		"active_connections":    m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
