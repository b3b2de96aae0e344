package hub

import "github.com/mossy-p/webrtc-mesh/internal/models"

// AuditSink is the persistence side channel. Record must not block and must
// not report failures back; the hub never waits on it.
type AuditSink interface {
	Record(ev models.AuditEvent)
}

// NopAuditSink discards everything. It is used when persistence is disabled.
type NopAuditSink struct{}

func (NopAuditSink) Record(models.AuditEvent) {}
