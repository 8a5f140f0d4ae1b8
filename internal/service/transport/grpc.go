package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	yoloServiceName    = "hyrch_serving.YoloService"
	detectMethod       = "/" + yoloServiceName + "/Detect"
	detectStreamMethod = "/" + yoloServiceName + "/DetectStream"
)

// DetectRequest is the YoloService request message.
type DetectRequest struct {
	ImageID   uint64  `json:"image_id"`
	ImageData []byte  `json:"image_data"`
	Conf      float64 `json:"conf"`
}

// DetectResponse carries the result document as a JSON string.
type DetectResponse struct {
	JSONData string `json:"json_data"`
}

// jsonCodec frames YoloService messages as JSON; it is selected with the
// "json" content subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCOptions configures a GRPCBinding.
type GRPCOptions struct {
	Target      string
	Local       bool
	Timeout     time.Duration
	DialOptions []grpc.DialOption
}

// GRPCBinding calls YoloService.Detect for sequenced frames and
// YoloService.DetectStream for local ones.
type GRPCBinding struct {
	conn    *grpc.ClientConn
	target  string
	local   bool
	timeout time.Duration
	encoder Encoder
	logger  *logger.Logger
}

// NewGRPCBinding creates the client connection. The connection is lazy; no
// network traffic happens until the first Send.
func NewGRPCBinding(opts GRPCOptions, encoder Encoder, log *logger.Logger) (*GRPCBinding, error) {
	if log == nil {
		log = logger.Nop()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	}, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", opts.Target, err)
	}
	return &GRPCBinding{
		conn:    conn,
		target:  opts.Target,
		local:   opts.Local,
		timeout: opts.Timeout,
		encoder: encoder,
		logger:  log.Named("grpc-binding"),
	}, nil
}

// Local reports whether the service is on this host.
func (b *GRPCBinding) Local() bool { return b.local }

// Close releases the client connection.
func (b *GRPCBinding) Close() error { return b.conn.Close() }

// Send encodes the frame and invokes the detection RPC.
func (b *GRPCBinding) Send(ctx context.Context, req Request) (model.DetectionResult, error) {
	imageData, err := encodeFrame(b.encoder, req.Frame)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "encode", Endpoint: b.target, Err: err}
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	method := detectMethod
	if b.local {
		method = detectStreamMethod
	}
	in := &DetectRequest{ImageID: uint64(req.ID), ImageData: imageData, Conf: req.Confidence}
	out := &DetectResponse{}

	b.logger.Debug("Invoking %s for frame %d (%d bytes)", method, req.ID, len(imageData))
	if err := b.conn.Invoke(ctx, method, in, out); err != nil {
		return model.DetectionResult{}, &TransportError{Op: "send", Endpoint: b.target, Err: grpcError(err)}
	}

	result, err := decodeResult([]byte(out.JSONData), !b.local)
	if err != nil {
		return model.DetectionResult{}, &TransportError{Op: "decode", Endpoint: b.target, Err: err}
	}
	return result, nil
}

func grpcError(err error) error {
	if status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return wrapTimeout(err)
}
