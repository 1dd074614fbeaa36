package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clawbot/clawbot/pkg/models"
)

// dispatchTimeout bounds asynchronous processing of one accepted batch.
const dispatchTimeout = 2 * time.Minute

// AlertmanagerBatch is the webhook payload shape.
type AlertmanagerBatch struct {
	Alerts []AlertmanagerAlert `json:"alerts"`
}

// AlertmanagerAlert is one alert within a batch.
type AlertmanagerAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
}

// AlertmanagerWebhook accepts an alert batch and feeds each firing alert
// into the event pipeline. The response is sent as soon as the batch is
// accepted; processing continues asynchronously. Alertmanager owns these
// alerts' lifecycle, so they never touch the known-issues set.
func (s *Server) AlertmanagerWebhook(c *gin.Context) {
	var batch AlertmanagerBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		s.logger.Warn("Dropping malformed alertmanager payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	var events []models.ClusterEvent
	for _, alert := range batch.Alerts {
		if alert.Status != "firing" {
			continue
		}
		events = append(events, alertEvent(alert))
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		for _, event := range events {
			s.dispatcher.Dispatch(ctx, event)
		}
	}()

	s.logger.Info("Alertmanager batch accepted", "alerts", len(batch.Alerts), "firing", len(events))
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// alertEvent converts a firing alert into a ClusterEvent. The resource
// identity comes from the alert's labels; every firing alert is Critical.
func alertEvent(alert AlertmanagerAlert) models.ClusterEvent {
	resourceKind, resourceName := "Alert", alert.Labels["alertname"]
	switch {
	case alert.Labels["pod"] != "":
		resourceKind, resourceName = "Pod", alert.Labels["pod"]
	case alert.Labels["deployment"] != "":
		resourceKind, resourceName = "Deployment", alert.Labels["deployment"]
	case alert.Labels["node"] != "":
		resourceKind, resourceName = "Node", alert.Labels["node"]
	}

	annotations := make(map[string]string, len(alert.Annotations))
	for k, v := range alert.Annotations {
		annotations[k] = v
	}

	event := models.ClusterEvent{
		Kind:         models.EventAlertmanagerFiring,
		Severity:     models.SeverityCritical,
		ResourceKind: resourceKind,
		Namespace:    alert.Labels["namespace"],
		ResourceName: resourceName,
		Message:      alert.Annotations["summary"],
		Annotations:  annotations,
		ObservedAt:   time.Now().UTC(),
	}
	event.BoundAnnotations()
	return event
}
