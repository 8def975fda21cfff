package linking

import (
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Auditor records linking events for the audit collaborator. Implementations
// must never block or fail the main reconciliation outcome.
type Auditor interface {
	Record(userID, eventType, subjectID string, metadata map[string]interface{})
}

const auditQueueKey = "audit:events"

// RedisAuditor pushes audit events onto a redis list the audit service
// drains. Delivery is fire-and-forget from a goroutine.
type RedisAuditor struct {
	Redis  *redis.Client
	Logger *logrus.Logger
}

func (a *RedisAuditor) Record(userID, eventType, subjectID string, metadata map[string]interface{}) {
	go func() {
		defer func() {
			if r := recover(); r != nil && a.Logger != nil {
				a.Logger.WithFields(logrus.Fields{"details": r}).Warn("audit record panicked")
			}
		}()
		event := map[string]interface{}{
			"id":         uuid.NewString(),
			"user_id":    userID,
			"event_type": eventType,
			"subject_id": subjectID,
			"metadata":   metadata,
			"at":         time.Now().UTC().Format(time.RFC3339Nano),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		if err := a.Redis.LPush(auditQueueKey, payload).Err(); err != nil && a.Logger != nil {
			a.Logger.WithFields(logrus.Fields{"code": err.Error()}).Warn("audit event dropped")
		}
	}()
}

// NoopAuditor drops everything. Used in tests and when redis is not
// configured.
type NoopAuditor struct{}

func (NoopAuditor) Record(string, string, string, map[string]interface{}) {}
