package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/imaging"
)

const testBaseURL = "http://classifier.test"

var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func newTestClient(t *testing.T) *HTTPClient {
	t.Helper()
	client := NewHTTPClient(testBaseURL+"/", 0, zap.NewNop())
	httpmock.ActivateNonDefault(client.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func testHandle(t *testing.T) *imaging.Handle {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/lesion.jpg", jpegHeader, 0o600))
	return imaging.NewHandle(fs, "/work/lesion.jpg")
}

func TestNormalizeProbabilitiesSumToOne(t *testing.T) {
	for _, class := range []int{0, 1} {
		for i := 0; i <= 100; i++ {
			confidence := float64(i) / 100
			result, err := Normalize(class, confidence)
			require.NoError(t, err)

			assert.InDelta(t, 1.0, result.LowRiskProbability+result.HighRiskProbability, 1e-9)
			if class == 1 {
				assert.Equal(t, HighRisk, result.Prediction)
				assert.Equal(t, confidence, result.HighRiskProbability)
			} else {
				assert.Equal(t, LowRisk, result.Prediction)
				assert.InDelta(t, confidence, result.LowRiskProbability, 1e-12)
			}
		}
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	_, err := Normalize(2, 0.5)
	assert.True(t, errors.Is(err, ErrPredictionFailed))

	_, err = Normalize(1, 1.5)
	assert.True(t, errors.Is(err, ErrPredictionFailed))
}

func TestPredictSuccess(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/predict", func(req *http.Request) (*http.Response, error) {
		file, header, err := req.FormFile("file")
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"detail":"missing file"}`), nil
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "lesion.jpg" || len(data) != len(jpegHeader) || header.Header.Get("Content-Type") != "image/jpeg" {
			return httpmock.NewStringResponse(http.StatusBadRequest, `{"detail":"bad part"}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"status":"success","predicted_class":1,"confidence":0.81}`), nil
	})

	result, err := client.Predict(context.Background(), testHandle(t))
	require.NoError(t, err)

	assert.Equal(t, HighRisk, result.Prediction)
	assert.Equal(t, 1, result.PredictedClass)
	assert.InDelta(t, 0.81, result.Confidence, 1e-12)
	assert.InDelta(t, 0.81, result.HighRiskProbability, 1e-12)
	assert.InDelta(t, 0.19, result.LowRiskProbability, 1e-12)
}

func TestPredictLegacyShape(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"predicted_class":0,"confidence":0.9}`))

	result, err := client.Predict(context.Background(), testHandle(t))
	require.NoError(t, err)
	assert.Equal(t, LowRisk, result.Prediction)
	assert.InDelta(t, 0.9, result.LowRiskProbability, 1e-12)
	assert.InDelta(t, 0.1, result.HighRiskProbability, 1e-12)
}

func TestPredictFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"error_envelope", http.StatusOK, `{"status":"error","error":"model not loaded"}`, "model not loaded"},
		{"malformed_body", http.StatusOK, `{not json`, "malformed"},
		{"unknown_shape", http.StatusOK, `{"status":"success"}`, "unexpected response shape"},
		{"class_out_of_range", http.StatusOK, `{"status":"success","predicted_class":3,"confidence":0.5}`, "out of range"},
		{"server_error_json", http.StatusInternalServerError, `{"detail":"Error processing image"}`, "Error processing image"},
		{"service_unavailable_text", http.StatusServiceUnavailable, "upstream down", "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
				httpmock.NewStringResponder(tt.status, tt.body))

			result, err := client.Predict(context.Background(), testHandle(t))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrPredictionFailed))
			assert.False(t, errors.Is(err, ErrUnsupportedImageFormat))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestPredictUnprocessableIsUnsupportedFormat(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"detail":"cannot identify image file"}`))

	_, err := client.Predict(context.Background(), testHandle(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedImageFormat))
	assert.True(t, errors.Is(err, imaging.ErrUnsupportedFormat))

	var predErr *PredictionError
	require.True(t, errors.As(err, &predErr))
	assert.Equal(t, http.StatusUnprocessableEntity, predErr.StatusCode)
	assert.Contains(t, ErrUnsupportedImageFormat.Error(), "JPEG, PNG or WebP")
}

func TestPredictNetworkFailure(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/predict",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := client.Predict(context.Background(), testHandle(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPredictionFailed))
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "predict must not retry")
}

func TestHealth(t *testing.T) {
	client := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"healthy"}`))
	require.NoError(t, client.Health(context.Background()))

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/health",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"detail":"Model not loaded"}`))
	assert.Error(t, client.Health(context.Background()))
}
