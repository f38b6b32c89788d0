package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // ブラウザから送られるPNGフレームのデコード用
	"strings"
)

const (
	// JPEGQuality は保存する静止画のJPEG品質。
	JPEGQuality = 90
	// MimeJPEG は保存する静止画のMIMEタイプ。
	MimeJPEG = "image/jpeg"
)

// ErrInvalidDataURL はdata URLとして解釈できない文字列を表す。
var ErrInvalidDataURL = errors.New("invalid data url")

// Mirror は画像を左右反転した新しい画像を返す。
// ユーザーが見ているプレビューは鏡像なので、保存する画像もそれに合わせる。
func Mirror(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-(x-b.Min.X), y, src.At(x, y))
		}
	}
	return dst
}

// EncodeJPEGDataURL は画像をJPEGでエンコードし、data URLとして返す。
func EncodeJPEGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return "data:" + MimeJPEG + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL はbase64形式のdata URLをバイト列とMIMEタイプに変換する。
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	if mime == "" {
		mime = "text/plain"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mime, nil
}

// DecodeFrame はブラウザから送られたフレーム（JPEG/PNGのdata URLまたは生バイト列）をデコードする。
func DecodeFrame(data []byte) (image.Image, error) {
	if bytes.HasPrefix(data, []byte("data:")) {
		raw, _, err := DecodeDataURL(string(data))
		if err != nil {
			return nil, err
		}
		data = raw
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.New("failed to decode frame: empty image")
	}
	return img, nil
}
