// Package queue moves security events through RabbitMQ.  The API publishes
// every auth event to the auth.security queue; the consumer persists them
// into the audit log so request handling never waits on the audit insert.
package queue

import (
    "encoding/json"
    "fmt"

    "github.com/iliyamo/clinic-api/internal/model"
)

// SecurityQueue is the durable queue carrying model.AuditLog payloads.
const SecurityQueue = "auth.security"

func encodeEvent(ev model.AuditLog) ([]byte, error) {
    return json.Marshal(ev)
}

func decodeEvent(body []byte) (model.AuditLog, error) {
    var ev model.AuditLog
    if err := json.Unmarshal(body, &ev); err != nil {
        return model.AuditLog{}, fmt.Errorf("unmarshal: %w", err)
    }
    if ev.TenantID == 0 || ev.Event == "" {
        return model.AuditLog{}, fmt.Errorf("event without tenant or name")
    }
    return ev, nil
}
