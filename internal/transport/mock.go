// internal/transport/mock.go
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// MockGateway simulates sending with a configurable success rate. Used for
// local development and seeding; tests usually prefer a hand-rolled fake.
type MockGateway struct {
	mu          sync.Mutex
	SuccessRate float64 // 0..1, defaults to 0.9
	rng         *rand.Rand
}

func NewMockGateway(successRate float64, seed int64) *MockGateway {
	if successRate <= 0 || successRate > 1 {
		successRate = 0.9
	}
	return &MockGateway{
		SuccessRate: successRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (m *MockGateway) SendText(ctx context.Context, to, body string) (string, error) {
	return m.roll("sendText")
}

func (m *MockGateway) SendMedia(ctx context.Context, to, caption, mediaURL string, mediaType model.MediaType) (string, error) {
	if !mediaType.Valid() {
		return "", NewPermanent("sendMedia", fmt.Errorf("unsupported media type %q", mediaType))
	}
	return m.roll("sendMedia")
}

func (m *MockGateway) CheckConnection(ctx context.Context) (Connection, error) {
	return Connection{Connected: true, State: "open"}, nil
}

func (m *MockGateway) roll(op string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng.Float64() < m.SuccessRate {
		return uuid.NewString(), nil
	}
	return "", NewTransient(op, fmt.Errorf("mock sending failed"))
}

var _ Transport = (*MockGateway)(nil)
