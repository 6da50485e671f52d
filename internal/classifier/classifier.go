// Package classifier talks to the remote skin-lesion classification endpoint.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/skincheck/internal/imaging"
)

// Label is the two-class output of the classifier.
type Label string

const (
	LowRisk  Label = "LowRisk"
	HighRisk Label = "HighRisk"
)

// Result is the normalized outcome of one classification.
type Result struct {
	PredictedClass      int     `json:"predicted_class"`
	Prediction          Label   `json:"prediction"`
	Confidence          float64 `json:"confidence"`
	LowRiskProbability  float64 `json:"low_risk_probability"`
	HighRiskProbability float64 `json:"high_risk_probability"`
}

// Client exposes the subset of functionality used by the scan flow.
type Client interface {
	Predict(ctx context.Context, image *imaging.Handle) (*Result, error)
}

var (
	// ErrPredictionFailed is the terminal failure for one prediction attempt.
	ErrPredictionFailed = errors.New("prediction failed")
	// ErrUnsupportedImageFormat is reported when the endpoint answers 422. It also
	// matches imaging.ErrUnsupportedFormat.
	ErrUnsupportedImageFormat = fmt.Errorf("%w: %w", ErrPredictionFailed, imaging.ErrUnsupportedFormat)
)

// PredictionError carries the endpoint's reason for a failed prediction.
type PredictionError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *PredictionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("prediction failed (HTTP %d): %s", e.StatusCode, e.Reason)
	}
	return "prediction failed: " + e.Reason
}

func (e *PredictionError) Is(target error) bool {
	return target == ErrPredictionFailed
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// Normalize maps the endpoint's class and winning-class confidence onto both risk
// probabilities. Confidence always belongs to the predicted class.
func Normalize(predictedClass int, confidence float64) (*Result, error) {
	if predictedClass != 0 && predictedClass != 1 {
		return nil, &PredictionError{Reason: fmt.Sprintf("predicted_class %d out of range", predictedClass)}
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, &PredictionError{Reason: fmt.Sprintf("confidence %v out of range", confidence)}
	}

	result := &Result{PredictedClass: predictedClass, Confidence: confidence}
	if predictedClass == 1 {
		result.Prediction = HighRisk
		result.HighRiskProbability = confidence
	} else {
		result.Prediction = LowRisk
		result.HighRiskProbability = 1 - confidence
	}
	result.LowRiskProbability = 1 - result.HighRiskProbability
	return result, nil
}
