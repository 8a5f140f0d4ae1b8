package handler

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// FrameSink receives complete camera JPEGs.
type FrameSink interface {
	HandleCameraImage(data []byte, camera string)
}

// frameAssembler rebuilds JPEG frames from UDP packets, one buffer per camera.
type frameAssembler struct {
	buffers map[string]*bytes.Buffer
}

func newFrameAssembler() *frameAssembler {
	return &frameAssembler{buffers: make(map[string]*bytes.Buffer)}
}

// feed appends a packet and returns the frame once its footer arrives.
func (a *frameAssembler) feed(camera string, data []byte) ([]byte, bool) {
	buf, ok := a.buffers[camera]
	if !ok {
		buf = new(bytes.Buffer)
		a.buffers[camera] = buf
	}

	if bytes.HasPrefix(data, jpegHeader) {
		buf.Reset()
	}
	buf.Write(data)

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil, false
	}
	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	buf.Reset()
	return frame, true
}

// cameraName maps a sender IP to its configured name.
func cameraName(cfg *config.Config, addr net.Addr) string {
	ip := addr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if name, ok := cfg.CameraNames[ip]; ok {
		return name
	}
	return "unknown_" + ip
}

// UDPCameraHandler listens on CamerasPort until ctx is cancelled.
func UDPCameraHandler(ctx context.Context, sink FrameSink, logger *logger.Logger, cfg *config.Config) error {
	port := strconv.Itoa(cfg.CamerasPort)
	conn, err := net.ListenPacket("udp", ":"+port)
	if err != nil {
		return err
	}
	logger.Info("UDP Camera handler started on port %s", port)
	return ServeCameras(ctx, conn, sink, logger, cfg)
}

// ServeCameras reads camera packets from conn, reconstructs JPEG frames and
// forwards complete frames to sink. It closes conn when ctx is cancelled.
func ServeCameras(ctx context.Context, conn net.PacketConn, sink FrameSink, logger *logger.Logger, cfg *config.Config) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	assembler := newFrameAssembler()
	buffer := make([]byte, 65535)

	for {
		n, remoteAddr, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		camera := cameraName(cfg, remoteAddr)
		if frame, ok := assembler.feed(camera, buffer[:n]); ok {
			sink.HandleCameraImage(frame, camera)
		}
	}
}
