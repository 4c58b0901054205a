package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	framePrefix     = []byte("data: ")
	frameTerminator = []byte("\n\n")
)

// EncodeFrame 将一个载荷编码为单个SSE帧: `data: <json>\n\n`
func EncodeFrame(payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(framePrefix)

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal sse payload: %w", err)
	}
	// Encoder terminates with a newline; the frame terminator replaces it.
	buf.Truncate(buf.Len() - 1)
	buf.Write(frameTerminator)
	return buf.Bytes(), nil
}

// FrameWriter 把帧逐个写入响应并立即刷新，写入阻塞即为背压
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewFrameWriter 在响应支持刷新时返回FrameWriter
func NewFrameWriter(w http.ResponseWriter) (*FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	return &FrameWriter{w: w, flusher: flusher}, nil
}

// WriteFrame 编码并写出一个完整帧，一帧对应一次Write
func (fw *FrameWriter) WriteFrame(payload interface{}) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	fw.flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")
}
