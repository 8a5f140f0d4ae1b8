package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"
)

// maxResponseBytes bounds how much of a detection response is read.
const maxResponseBytes = 4 << 20

// HTTPOptions configures an HTTPBinding.
type HTTPOptions struct {
	URL     string
	Local   bool // detection service is co-located; calls are synchronous
	Timeout time.Duration
	Client  *http.Client
}

// HTTPBinding posts frames to the router's /yolo endpoint as multipart forms.
type HTTPBinding struct {
	url     string
	local   bool
	timeout time.Duration
	client  *http.Client
	encoder Encoder
	logger  *logger.Logger
}

// NewHTTPBinding creates a binding for the multipart HTTP detection endpoint.
func NewHTTPBinding(opts HTTPOptions, encoder Encoder, log *logger.Logger) *HTTPBinding {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPBinding{
		url:     opts.URL,
		local:   opts.Local,
		timeout: opts.Timeout,
		client:  client,
		encoder: encoder,
		logger:  log.Named("http-binding"),
	}
}

// Local reports whether the service is on this host.
func (b *HTTPBinding) Local() bool { return b.local }

// Send encodes the frame, posts it and decodes the labelled boxes.
func (b *HTTPBinding) Send(ctx context.Context, req Request) (model.DetectionResult, error) {
	imageData, err := encodeFrame(b.encoder, req.Frame)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "encode", Endpoint: b.url, Err: err}
	}

	body, contentType, err := buildMultipart(imageData, newRequestConfig(req))
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "encode", Endpoint: b.url, Err: err}
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, body)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: b.url, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	b.logger.Debug("Sending frame %d (%d bytes) to %s", req.ID, len(imageData), b.url)
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: b.url, Err: wrapTimeout(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: b.url, Err: wrapTimeout(err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.DetectionResult{}, &TransportError{
			Op:       "send",
			Endpoint: b.url,
			Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)),
		}
	}

	result, err := decodeResult(raw, !b.local)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "decode", Endpoint: b.url, Err: err}
	}
	return result, nil
}

// buildMultipart lays out the "image" file part and the "json_data" field.
func buildMultipart(imageData []byte, cfg requestConfig) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="image.webp"`)
	header.Set("Content-Type", "image/webp")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", err
	}

	jsonData, err := json.Marshal(cfg)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("json_data", string(jsonData)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
