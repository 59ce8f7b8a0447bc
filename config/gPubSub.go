package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// JobMessage asks a worker to run one SLA job (sync, summary or cleanup).
type JobMessage struct {
	Job           string `json:"job"`
	Brand         string `json:"brand,omitempty"`
	Country       string `json:"country,omitempty"`
	Force         bool   `json:"force"`
	CorrelationId string `json:"correlation_id"`
	// RunId points at a queued SyncRun for sync jobs.
	RunId uint `json:"run_id,omitempty"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// GetPubSubClient returns the process-wide Pub/Sub client, creating it on first use.
// Uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
	}
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	pubsubClient = c
	return c, nil
}

// ClosePubSubClient releases the shared client, if one was created.
func ClosePubSubClient() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}

func JobsTopic() string {
	return envDefault("SLA_JOBS_TOPIC", "sla-jobs")
}

// PublishJob publishes msg to the jobs topic and returns the server-assigned message id.
func PublishJob(ctx context.Context, msg JobMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	res := client.Topic(JobsTopic()).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job": msg.Job},
	})
	return res.Get(ctx)
}
