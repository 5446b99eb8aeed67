package breakglass

import (
	"context"
	"fmt"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// LivenessThreshold is the minimum confidence a liveness check must reach.
const LivenessThreshold = 0.85

// LivenessResult is one evaluator outcome.
type LivenessResult struct {
	OK         bool    `json:"ok"`
	Confidence float64 `json:"confidence"`
}

// LivenessEvaluator verifies that the advocate resolving an event is a live
// human. Implementations wrap a biometric provider; the artifact is an
// opaque sample (image or audio reference) the provider understands.
type LivenessEvaluator interface {
	Evaluate(ctx context.Context, method string, artifact []byte) (LivenessResult, error)
}

// StubEvaluator is the development evaluator. It returns fixed confidences
// per method, above the threshold, so the full flow is exercisable without
// a biometric provider.
type StubEvaluator struct{}

func (StubEvaluator) Evaluate(_ context.Context, method string, _ []byte) (LivenessResult, error) {
	switch method {
	case MethodFace:
		return LivenessResult{OK: true, Confidence: 0.92}, nil
	case MethodVoice:
		return LivenessResult{OK: true, Confidence: 0.89}, nil
	default:
		return LivenessResult{}, fmt.Errorf("%w: unknown liveness method %q", core.ErrInvalidArgument, method)
	}
}
