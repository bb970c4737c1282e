package transport

import (
	"context"
	"sync"

	"github.com/goliatone/go-outbound/core"
)

// RecordingSender keeps every request and answers from Respond, or 200 when
// Respond is nil. It stands in for a real receiver in dry runs and tests.
type RecordingSender struct {
	Respond func(req core.DeliveryRequest) (core.DeliveryResponse, error)

	mu       sync.Mutex
	requests []core.DeliveryRequest
}

func (s *RecordingSender) Send(_ context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	respond := s.Respond
	s.mu.Unlock()
	if respond == nil {
		return core.DeliveryResponse{StatusCode: 200}, nil
	}
	return respond(req)
}

func (s *RecordingSender) Requests() []core.DeliveryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DeliveryRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, cloneRequest(req))
	}
	return out
}

func (s *RecordingSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func cloneRequest(req core.DeliveryRequest) core.DeliveryRequest {
	out := core.DeliveryRequest{
		URL:  req.URL,
		Body: append([]byte(nil), req.Body...),
	}
	if req.Headers != nil {
		out.Headers = make(map[string]string, len(req.Headers))
		for key, value := range req.Headers {
			out.Headers[key] = value
		}
	}
	return out
}

var _ core.Sender = (*RecordingSender)(nil)
