package tlmt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

const posthogEndpoint = "https://eu.i.posthog.com"

type posthogTelemetry struct {
	client    posthog.Client
	machineID string
}

// NewPosthog builds the posthog sink. The distinct id is a random uuid
// persisted under the user config dir, never derived from the machine.
func NewPosthog(apiKey string) (Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint: posthogEndpoint,
	})
	if err != nil {
		return nil, err
	}

	return &posthogTelemetry{
		client:    client,
		machineID: machineID(),
	}, nil
}

func (t *posthogTelemetry) Send(_ context.Context, event Event) error {
	properties := posthog.NewProperties()
	for k, v := range event.Properties {
		properties.Set(k, v)
	}

	return t.client.Enqueue(posthog.Capture{
		DistinctId: t.machineID,
		Event:      event.Name,
		Properties: properties,
	})
}

func (t *posthogTelemetry) Close() error {
	return t.client.Close()
}

func machineID() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return uuid.NewString()
	}

	path := filepath.Join(dir, "registre-express", "machine.id")

	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.ParseBytes(bytes.TrimSpace(data)); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		_ = os.WriteFile(path, []byte(id), 0o600)
	}

	return id
}
