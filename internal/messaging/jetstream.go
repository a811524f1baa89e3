package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
)

const scoresStream = "SCORES"

// EnsureStreams creates (or validates) the single stream carrying score
// events: app.score.>
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(scoresStream); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			if _, addErr := js.AddStream(&nats.StreamConfig{
				Name:      scoresStream,
				Subjects:  []string{"app.score.>"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			}); addErr != nil {
				return addErr
			}
		} else {
			return err
		}
	}
	return nil
}
