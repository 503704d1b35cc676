package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	activeConns   atomic.Int64
	roomJoins     atomic.Uint64
	messages      atomic.Uint64
	aiResponses   atomic.Uint64
	aiFallbacks   atomic.Uint64
	typingSignals atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncRoomJoin() {
	m.roomJoins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncAIResponse() {
	m.aiResponses.Add(1)
}

func (m *Metrics) IncAIFallback() {
	m.aiFallbacks.Add(1)
}

func (m *Metrics) IncTyping() {
	m.typingSignals.Add(1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"active_connections":   m.activeConns.Load(),
		"room_joins_total":     m.roomJoins.Load(),
		"messages_total":       m.messages.Load(),
		"ai_responses_total":   m.aiResponses.Load(),
		"ai_fallbacks_total":   m.aiFallbacks.Load(),
		"typing_signals_total": m.typingSignals.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
