// Package model はドメインモデルを定義する。
package model

import "time"

// DailyRecord は1日1枚の確定済みセルフィーを表す。
// 作成後に変更されるのは Uploaded と GooglePhotosID のみで、
// いずれも未同期→同期済みの一方向にしか遷移しない。
type DailyRecord struct {
	ID             string `json:"id"`
	Date           string `json:"date"`      // 表示用の日付文字列（派生値）
	Timestamp      int64  `json:"timestamp"` // 撮影時刻（エポックミリ秒）。日付判定はこちらが正
	PhotoURL       string `json:"photoUrl"`  // data:image/jpeg;base64,... 形式の画像
	GooglePhotosID string `json:"googlePhotosId,omitempty"`
	Uploaded       bool   `json:"uploaded"`
}

// Time は撮影時刻をtime.Timeで返す。
func (r DailyRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// PendingCapture はユーザーの確認待ちの撮影画像を表す。永続化されない。
type PendingCapture struct {
	Date      string `json:"date"`
	Timestamp int64  `json:"timestamp"`
	PhotoURL  string `json:"photoUrl"`
}

// Time は撮影時刻をtime.Timeで返す。
func (p PendingCapture) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// NewPendingCapture は撮影時刻とエンコード済み画像からPendingCaptureを生成する。
func NewPendingCapture(takenAt time.Time, photoURL string) PendingCapture {
	return PendingCapture{
		Date:      DateString(takenAt),
		Timestamp: takenAt.UnixMilli(),
		PhotoURL:  photoURL,
	}
}

// DateString は "Mon Jan 02 2006" 形式の日付文字列を返す。
func DateString(t time.Time) string {
	return t.Format("Mon Jan 02 2006")
}

// Stats はダッシュボードに表示する集計値。
type Stats struct {
	Total      int  `json:"total"`
	Streak     int  `json:"streak"`
	ThisWeek   int  `json:"thisWeek"`
	Level      int  `json:"level"`
	TakenToday bool `json:"takenToday"`
}
