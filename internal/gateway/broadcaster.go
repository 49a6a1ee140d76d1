package gateway

import (
	"strconv"
	"time"

	"emafutures/internal/model"
)

// broadcast stores the decision as the symbol's latest, records it in the
// replay buffer and sends it to every client subscribed to the symbol.
// Slow clients drop messages rather than block the publisher.
func (h *Hub) broadcast(d model.Decision) {
	now := h.now().UTC()
	if h.Latency != nil && !d.CreatedAt.IsZero() {
		if lag := now.Sub(d.CreatedAt); lag >= 0 {
			h.Latency.Record(lag)
		}
	}

	h.mu.Lock()
	h.latest[d.Symbol] = d
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := envelope("decision", d, now, seq)
	h.history.Push(seq, d.Symbol, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(d.Symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// envelope hand-crafts {"type":..,"symbol":..,"data":..,"ts":..,"seq":N}.
func envelope(typ string, d model.Decision, now time.Time, seq int64) []byte {
	data := d.JSON()
	buf := make([]byte, 0, len(data)+len(d.Symbol)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","symbol":`...)
	buf = strconv.AppendQuote(buf, d.Symbol)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
