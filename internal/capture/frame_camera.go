package capture

import (
	"context"
	"image"
	"sync"
)

// FrameCamera はブラウザから送られたフレームを映像として扱うカメラ。
// ブラウザ側でカメラの権限が拒否された場合はDenyで拒否状態にする。
type FrameCamera struct {
	mu     sync.Mutex
	frame  image.Image
	denied bool
	open   int
}

// NewFrameCamera はFrameCameraを生成する。
func NewFrameCamera() *FrameCamera {
	return &FrameCamera{}
}

// Submit は最新のフレームを設定する。
func (c *FrameCamera) Submit(frame image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = frame
}

// Deny はカメラの権限が拒否されたことを記録する。
func (c *FrameCamera) Deny() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = true
}

// Grant は権限の拒否状態を解除する。
func (c *FrameCamera) Grant() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = false
}

// OpenStreams は解放されていないストリームの数を返す。
func (c *FrameCamera) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Open はストリームを返す。
func (c *FrameCamera) Open(_ context.Context, _ Constraints) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied {
		return nil, ErrCameraPermission
	}
	c.open++
	return &frameStream{camera: c}, nil
}

type frameStream struct {
	camera *FrameCamera
	once   sync.Once
}

func (s *frameStream) Frame() (image.Image, bool) {
	s.camera.mu.Lock()
	defer s.camera.mu.Unlock()
	if s.camera.frame == nil {
		return nil, false
	}
	return s.camera.frame, true
}

func (s *frameStream) Close() error {
	s.once.Do(func() {
		s.camera.mu.Lock()
		s.camera.open--
		s.camera.mu.Unlock()
	})
	return nil
}

var _ Camera = (*FrameCamera)(nil)
