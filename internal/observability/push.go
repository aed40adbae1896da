package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the invocation's metrics to a Prometheus Pushgateway, grouped by
// command so that each scheduled stage keeps its own series.
func Push(ctx context.Context, url, job, command string, m *Metrics) error {
	err := push.New(url, job).
		Gatherer(m.Gatherer()).
		Grouping("command", command).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
