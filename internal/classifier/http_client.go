package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/logging"
)

// DefaultTimeout bounds a single prediction request.
const DefaultTimeout = 30 * time.Second

const (
	predictPath = "/predict"
	healthPath  = "/health"
	fileField   = "file"
	maxBodySize = 1 << 20
)

// HTTPClient submits images to the classifier over multipart HTTP.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient returns a client for the endpoint at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("classifier"),
	}
}

// Predict uploads the image and returns the normalized prediction. Failures are
// terminal for the attempt; nothing is retried.
func (c *HTTPClient) Predict(ctx context.Context, image *imaging.Handle) (*Result, error) {
	data, declared, err := image.Payload()
	if err != nil {
		return nil, logging.NewOperationError("classifier.read_image", "", err)
	}

	body, contentType, err := buildMultipart(image.Name(), data, declared)
	if err != nil {
		return nil, logging.NewOperationError("classifier.build_request", "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		return nil, logging.NewOperationError("classifier.build_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("classifier request failed", zap.Error(err), zap.String("url", req.URL.String()))
		return nil, &PredictionError{Reason: "classifier unreachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &PredictionError{StatusCode: resp.StatusCode, Reason: "failed to read response", Err: err}
	}

	fields := []zap.Field{zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start))}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		c.logger.Warn("classifier rejected image format", fields...)
		return nil, &PredictionError{StatusCode: resp.StatusCode, Reason: errorReason(payload), Err: ErrUnsupportedImageFormat}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("classifier returned error status", fields...)
		return nil, &PredictionError{StatusCode: resp.StatusCode, Reason: errorReason(payload)}
	}

	result, err := decodeResponse(payload)
	if err != nil {
		c.logger.Error("classifier response rejected", append(fields, zap.Error(err))...)
		return nil, err
	}
	c.logger.Info("prediction received", append(fields,
		zap.String("prediction", string(result.Prediction)),
		zap.Float64("confidence", result.Confidence))...)
	return result, nil
}

// Health reports whether the endpoint answers its health probe.
func (c *HTTPClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		return errors.New("classifier health check returned " + resp.Status)
	}
	return nil
}

func buildMultipart(filename string, data []byte, declared string) (*bytes.Buffer, string, error) {
	contentType := declared
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
