package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"visionrelay/internal/logger"
	"visionrelay/internal/model"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxUploadBytes bounds a multipart detection upload.
const maxUploadBytes = 32 << 20

// DetectionService answers detection requests from peers over HTTP (/yolo)
// and gRPC (YoloService) using a local detector.
type DetectionService struct {
	detector Detector
	logger   *logger.Logger
}

// NewDetectionService wraps detector for remote callers.
func NewDetectionService(detector Detector, log *logger.Logger) *DetectionService {
	if log == nil {
		log = logger.Nop()
	}
	return &DetectionService{detector: detector, logger: log.Named("detection-service")}
}

func (s *DetectionService) run(imageID uint64, imageData []byte, conf float64) ([]byte, error) {
	boxes, err := s.detector.DetectObjects(imageData, conf)
	if err != nil {
		return nil, err
	}
	return encodeResult(model.DetectionResult{ImageID: model.SequenceID(imageID), Boxes: boxes})
}

// ServeHTTP handles the multipart form posted by HTTPBinding.
func (s *DetectionService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Missing image", http.StatusBadRequest)
		return
	}
	defer file.Close()
	imageData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading image", http.StatusBadRequest)
		return
	}

	var cfg requestConfig
	if err := json.Unmarshal([]byte(r.FormValue("json_data")), &cfg); err != nil {
		http.Error(w, "Invalid json_data", http.StatusBadRequest)
		return
	}

	body, err := s.run(cfg.ImageID, imageData, cfg.Confidence)
	if err != nil {
		s.logger.Error("Detection failed for image %d: %v", cfg.ImageID, err)
		http.Error(w, "Detection failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// Detect implements both YoloService methods.
func (s *DetectionService) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	if len(req.ImageData) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty image_data")
	}
	body, err := s.run(req.ImageID, req.ImageData, req.Conf)
	if err != nil {
		s.logger.Error("Detection failed for image %d: %v", req.ImageID, err)
		return nil, status.Error(codes.Internal, fmt.Sprintf("detection failed: %v", err))
	}
	return &DetectResponse{JSONData: string(body)}, nil
}

// Register attaches YoloService to a gRPC server.
func (s *DetectionService) Register(server *grpc.Server) {
	server.RegisterService(&yoloServiceDesc, s)
}

type yoloServer interface {
	Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error)
}

func yoloHandler(fullMethod string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(DetectRequest)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(yoloServer).Detect(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(yoloServer).Detect(ctx, req.(*DetectRequest))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var yoloServiceDesc = grpc.ServiceDesc{
	ServiceName: yoloServiceName,
	HandlerType: (*yoloServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: yoloHandler(detectMethod)},
		{MethodName: "DetectStream", Handler: yoloHandler(detectStreamMethod)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hyrch_serving.proto",
}
