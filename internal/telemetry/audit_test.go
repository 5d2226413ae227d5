package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-client/internal/mocks"
	"chat-client/internal/telemetry"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.session", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.EventType == "session_audit" &&
			env.Service == "chat-client" &&
			env.Environment == "test" &&
			env.UserID == "u1" &&
			env.Payload.Action == "logout" &&
			env.Payload.Level == telemetry.LevelInfo
	})).Return(nil).Once()

	emitter := telemetry.NewAuditEmitter(pub, "audit.session", "chat-client", "test")
	emitter.Emit(context.Background(), telemetry.LevelInfo, "logout", "user logged out", "req-1", "u1")

	pub.AssertExpectations(t)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	emitter := telemetry.NewAuditEmitter(pub, "audit.session", "chat-client", "test")
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), telemetry.LevelWarn, "ws_auth_failed", "rejected", "", "")
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), telemetry.LevelInfo, "login", "x", "", "")
	})
}
