// Package audit provides the append-only security/administrative event
// record. The durable append/query/erase operations themselves live on the
// store.Store contract (internal/store);
// this package is the narrow service surface the API layer and
// authentication outcomes call into, so call sites don't construct
// store.AuditEvent values by hand.
package audit

import (
	"encoding/json"
	"time"

	"github.com/cuemby/worldpam/internal/store"
)

// Log appends audit records to a bound Store.
type Log struct {
	store store.Store
}

// New constructs a Log backed by st.
func New(st store.Store) *Log {
	return &Log{store: st}
}

// Record appends one audit event. details is marshaled to JSON best-effort;
// a marshal failure is swallowed and the field left empty rather than
// blocking the audit write (the action being audited must not be blocked by
// an audit-logging defect).
func (l *Log) Record(eventType, principalID, action, resource string, result store.AuditResult, details any, ip, ua string) error {
	var detailsJSON string
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}

	_, err := l.store.Audit(&store.AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		Action:      action,
		Resource:    resource,
		Result:      result,
		DetailsJSON: detailsJSON,
		IP:          ip,
		UserAgent:   ua,
	})
	return err
}

// Query returns audit events matching principal/eventType since the given
// time, newest-first, bounded to limit.
func (l *Log) Query(principal, eventType string, since time.Time, limit int) ([]*store.AuditEvent, error) {
	return l.store.QueryAudit(principal, eventType, since, limit)
}

// Erase nulls principal and IP identifiers on every record matching
// principal, without deleting the records themselves (right to erasure).
func (l *Log) Erase(principal string) (int, error) {
	return l.store.EraseAuditPrincipal(principal)
}
