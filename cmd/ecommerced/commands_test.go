package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/health"
)

type fakeConsumer struct {
	connected bool
}

func (c *fakeConsumer) IsConnected() bool {
	return c.connected
}

func TestNotifierCheckerFollowsConsumerSession(t *testing.T) {
	consumer := &fakeConsumer{}
	checker := notifierChecker(consumer, zap.NewNop())

	report := checker.Run(context.Background())
	assert.Equal(t, health.Unhealthy, report.Status)
	assert.Contains(t, report.String(), "rabbitmq")

	consumer.connected = true
	report = checker.Run(context.Background())
	assert.Equal(t, health.Healthy, report.Status)
}
