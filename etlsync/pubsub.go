package etlsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
	"github.com/sirupsen/logrus"
)

// JobHandler runs one job delivered through Pub/Sub.
type JobHandler func(ctx context.Context, msg config.JobMessage) error

// RunJob adapts the synchronizer to a JobHandler.
func (s *Synchronizer) RunJob(ctx context.Context, msg config.JobMessage) error {
	_, err := s.Run(ctx, Request{
		Brand:       msg.Brand,
		Country:     msg.Country,
		Force:       msg.Force,
		TriggeredBy: models.SyncTriggeredPubSub,
		RunId:       msg.RunId,
	})
	if errors.Is(err, ErrRunFinished) {
		return nil
	}
	return err
}

// PubSubPushHandler receives push deliveries and dispatches them by job type.
// It always answers 204: failures are logged and recorded on the run, and a
// retry storm from Pub/Sub would not fix them.
func PubSubPushHandler(logger *logrus.Logger, handlers map[string]JobHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_SLA_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		envelope, err := decodeEnvelope(body)
		if err != nil {
			config.LogError(logger, "pubsub.go", "PubSubPushHandler", "decode envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg config.JobMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "pubsub.go", "PubSubPushHandler", "decode job", envelope.Message.MessageId, err)
			c.Status(http.StatusNoContent)
			return
		}
		handler, ok := handlers[msg.Job]
		if !ok {
			config.LogError(logger, "pubsub.go", "PubSubPushHandler", "unknown job", msg, errors.New("unknown job type"))
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if msg.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
		}
		ctx = utils.SetJobActorInContext(ctx, "pubsub:"+envelope.Subscription)
		if err := handler(ctx, msg); err != nil {
			config.LogError(logger, "pubsub.go", "PubSubPushHandler", msg.Job, msg, err)
		}
		c.Status(http.StatusNoContent)
	}
}
