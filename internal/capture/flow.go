// Package capture はカメラから静止画を取得し、確認待ちの撮影画像として扱う。
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/dailyselfie/internal/model"
)

var (
	// ErrCameraPermission はカメラへのアクセスが拒否されたことを表す。Retryするまで解消しない。
	ErrCameraPermission = fmt.Errorf("%w: permission denied", model.ErrCamera)
	// ErrNotReady はストリームの最初のフレームがまだ届いていないことを表す。
	ErrNotReady = fmt.Errorf("%w: stream not ready", model.ErrCamera)
	// ErrNotStarted はストリームを取得していない状態での撮影を表す。
	ErrNotStarted = fmt.Errorf("%w: stream not started", model.ErrCamera)
)

// Constraints はカメラに要求するストリームの条件。
type Constraints struct {
	Width      int
	Height     int
	FacingUser bool // 前面カメラ
}

// DefaultConstraints はセルフィー撮影用の既定値。
var DefaultConstraints = Constraints{Width: 1280, Height: 720, FacingUser: true}

// Stream は取得済みのカメラストリーム。
type Stream interface {
	// Frame は現在のフレームを返す。最初のフレームが届くまではfalseを返す。
	Frame() (image.Image, bool)
	Close() error
}

// Camera はストリームを取得する。
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// FlowState は撮影フローの状態。
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowStreaming
	FlowFailed
	FlowStopped
)

// Flow は1つの撮影画面に対応し、ストリームを排他的に所有する。
// 取得したストリームはStopで必ず解放する。
type Flow struct {
	camera      Camera
	constraints Constraints
	now         func() time.Time

	mu     sync.Mutex
	state  FlowState
	stream Stream
	err    error
}

// NewFlow はFlowを生成する。
func NewFlow(camera Camera, constraints Constraints) *Flow {
	return &Flow{
		camera:      camera,
		constraints: constraints,
		now:         time.Now,
		state:       FlowIdle,
	}
}

// Start はストリームを取得する。取得済みなら何もしない。
// 権限拒否で失敗した後はRetryを呼ぶまで同じエラーを返す。
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startLocked(ctx)
}

func (f *Flow) startLocked(ctx context.Context) error {
	if f.state == FlowFailed {
		return f.err
	}
	if f.stream != nil {
		return nil
	}

	stream, err := f.camera.Open(ctx, f.constraints)
	if err != nil {
		f.state = FlowFailed
		if errors.Is(err, ErrCameraPermission) {
			f.err = err
		} else {
			f.err = fmt.Errorf("%w: %v", model.ErrCamera, err)
		}
		slog.Warn("failed to open camera", slog.String("error", err.Error()))
		return f.err
	}

	f.stream = stream
	f.state = FlowStreaming
	f.err = nil
	return nil
}

// Retry は失敗状態を解除してストリームを取得し直す。
func (f *Flow) Retry(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	f.state = FlowIdle
	f.err = nil
	return f.startLocked(ctx)
}

// Ready は最初のフレームが届いて撮影可能かを返す。
func (f *Flow) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stream == nil {
		return false
	}
	_, ok := f.stream.Frame()
	return ok
}

// State は現在の状態と、失敗している場合はそのエラーを返す。
func (f *Flow) State() (FlowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

// Capture は現在のフレームを左右反転してJPEGにエンコードし、確認待ちの撮影画像として返す。
func (f *Flow) Capture() (model.PendingCapture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == FlowFailed {
		return model.PendingCapture{}, f.err
	}
	if f.stream == nil {
		return model.PendingCapture{}, ErrNotStarted
	}
	frame, ok := f.stream.Frame()
	if !ok {
		return model.PendingCapture{}, ErrNotReady
	}

	photoURL, err := EncodeJPEGDataURL(Mirror(frame))
	if err != nil {
		return model.PendingCapture{}, fmt.Errorf("%w: %v", model.ErrCamera, err)
	}
	return model.NewPendingCapture(f.now(), photoURL), nil
}

// Stop はストリームを解放する。複数回呼んでもよい。
func (f *Flow) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	if f.state != FlowFailed {
		f.state = FlowStopped
	}
}

func (f *Flow) closeLocked() {
	if f.stream == nil {
		return
	}
	if err := f.stream.Close(); err != nil {
		slog.Warn("failed to release camera stream", slog.String("error", err.Error()))
	}
	f.stream = nil
}
