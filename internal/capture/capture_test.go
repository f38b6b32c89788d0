package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// leftRedImage は左半分が赤、右半分が青の画像を返す。
func leftRedImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestMirror_FlipsHorizontally(t *testing.T) {
	src := leftRedImage(4, 2)
	dst := Mirror(src)

	if got := dst.RGBAAt(0, 0); got.B != 255 || got.R != 0 {
		t.Errorf("left pixel after mirror = %+v, want blue", got)
	}
	if got := dst.RGBAAt(3, 1); got.R != 255 || got.B != 0 {
		t.Errorf("right pixel after mirror = %+v, want red", got)
	}
}

func TestEncodeAndDecodeDataURL(t *testing.T) {
	dataURL, err := EncodeJPEGDataURL(leftRedImage(8, 8))
	if err != nil {
		t.Fatalf("EncodeJPEGDataURL() error = %v", err)
	}
	if !strings.HasPrefix(dataURL, "data:image/jpeg;base64,") {
		t.Fatalf("dataURL prefix = %q", dataURL[:30])
	}

	raw, mime, err := DecodeDataURL(dataURL)
	if err != nil {
		t.Fatalf("DecodeDataURL() error = %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q", mime)
	}
	if _, err := jpeg.Decode(bytes.NewReader(raw)); err != nil {
		t.Errorf("decoded payload is not a jpeg: %v", err)
	}
}

func TestDecodeDataURL_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no prefix", "image/jpeg;base64,AAAA"},
		{"no comma", "data:image/jpeg;base64"},
		{"not base64", "data:image/jpeg,hello"},
		{"bad base64", "data:image/jpeg;base64,!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeDataURL(tt.in); !errors.Is(err, ErrInvalidDataURL) {
				t.Errorf("err = %v, want ErrInvalidDataURL", err)
			}
		})
	}
}

func TestDecodeFrame_AcceptsPNGBytesAndDataURL(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, leftRedImage(4, 4)); err != nil {
		t.Fatal(err)
	}

	img, err := DecodeFrame(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeFrame(png) error = %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}

	dataURL, _ := EncodeJPEGDataURL(leftRedImage(6, 2))
	if _, err := DecodeFrame([]byte(dataURL)); err != nil {
		t.Errorf("DecodeFrame(dataURL) error = %v", err)
	}

	if _, err := DecodeFrame([]byte("not an image")); err == nil {
		t.Error("expected error for garbage frame")
	}
}

func TestFlow_CaptureProducesMirroredJPEG(t *testing.T) {
	cam := NewFrameCamera()
	flow := NewFlow(cam, DefaultConstraints)
	fixed := time.Date(2024, 3, 5, 9, 30, 0, 0, time.Local)
	flow.now = func() time.Time { return fixed }

	if err := flow.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer flow.Stop()

	if flow.Ready() {
		t.Error("Ready() should be false before the first frame")
	}
	if _, err := flow.Capture(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Capture() before frame error = %v, want ErrNotReady", err)
	}

	cam.Submit(leftRedImage(16, 8))
	if !flow.Ready() {
		t.Fatal("Ready() should be true after a frame")
	}

	p, err := flow.Capture()
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if p.Timestamp != fixed.UnixMilli() || p.Date != model.DateString(fixed) {
		t.Errorf("pending = {%q %d}", p.Date, p.Timestamp)
	}

	raw, _, err := DecodeDataURL(p.PhotoURL)
	if err != nil {
		t.Fatalf("DecodeDataURL() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("jpeg.Decode() error = %v", err)
	}
	r, _, b, _ := img.At(1, 4).RGBA()
	if b <= r {
		t.Errorf("left side should be blue after mirroring, r=%d b=%d", r, b)
	}
}

func TestFlow_StopReleasesStreamAndIsIdempotent(t *testing.T) {
	cam := NewFrameCamera()
	flow := NewFlow(cam, DefaultConstraints)

	if err := flow.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := flow.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cam.OpenStreams() != 1 {
		t.Errorf("OpenStreams() = %d, want 1", cam.OpenStreams())
	}

	flow.Stop()
	flow.Stop()
	if cam.OpenStreams() != 0 {
		t.Errorf("OpenStreams() after Stop = %d, want 0", cam.OpenStreams())
	}
	if _, err := flow.Capture(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Capture() after Stop error = %v, want ErrNotStarted", err)
	}
}

func TestFlow_PermissionDeniedIsTerminalUntilRetry(t *testing.T) {
	cam := NewFrameCamera()
	cam.Deny()
	flow := NewFlow(cam, DefaultConstraints)

	if err := flow.Start(context.Background()); !errors.Is(err, ErrCameraPermission) {
		t.Fatalf("Start() error = %v, want ErrCameraPermission", err)
	}
	if !errors.Is(ErrCameraPermission, model.ErrCamera) {
		t.Error("ErrCameraPermission should be a camera error")
	}

	// 権限が付与されてもRetryするまでは失敗のまま
	cam.Grant()
	if err := flow.Start(context.Background()); !errors.Is(err, ErrCameraPermission) {
		t.Errorf("Start() after grant error = %v, want ErrCameraPermission", err)
	}
	if state, _ := flow.State(); state != FlowFailed {
		t.Errorf("state = %v, want FlowFailed", state)
	}

	if err := flow.Retry(context.Background()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	defer flow.Stop()
	if state, err := flow.State(); state != FlowStreaming || err != nil {
		t.Errorf("state = %v, err = %v", state, err)
	}
	if cam.OpenStreams() != 1 {
		t.Errorf("OpenStreams() = %d, want 1", cam.OpenStreams())
	}
}

func TestPendingStore(t *testing.T) {
	s := NewPendingStore()
	p := model.PendingCapture{Date: "d", Timestamp: 1, PhotoURL: "data:x"}

	if _, ok := s.Get("u1"); ok {
		t.Error("empty store should have no pending capture")
	}

	s.Put("u1", p)
	if got, ok := s.Get("u1"); !ok || got != p {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	if _, ok := s.Get("u2"); ok {
		t.Error("pending capture must not leak to another user")
	}

	if got, ok := s.Take("u1"); !ok || got != p {
		t.Errorf("Take() = %+v, %v", got, ok)
	}
	if _, ok := s.Take("u1"); ok {
		t.Error("Take() should remove the pending capture")
	}

	s.Put("u1", p)
	s.Discard("u1")
	if _, ok := s.Get("u1"); ok {
		t.Error("Discard() should remove the pending capture")
	}

	s.Put("u1", p)
	s.SessionChanged(context.Background(), nil)
	if _, ok := s.Get("u1"); ok {
		t.Error("sign out should clear pending captures")
	}
}
