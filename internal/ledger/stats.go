package ledger

import (
	"sort"
	"time"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// レベルの閾値（累計枚数）。
var levelThresholds = []int{7, 30, 100, 365}

// civilDay はtをlocの暦日に変換し、通算日数として返す。
// 夏時間の切り替えがあっても1日は1として数えられる。
func civilDay(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// TodaysRecord はnowと同じ暦日に撮影された記録を返す。
// 日付の判定は保存済みの文字列ではなくタイムスタンプから行う。
func TodaysRecord(records []model.DailyRecord, now time.Time, loc *time.Location) (model.DailyRecord, bool) {
	today := civilDay(now, loc)
	for _, r := range records {
		if civilDay(r.Time(), loc) == today {
			return r, true
		}
	}
	return model.DailyRecord{}, false
}

// Streak は最新の記録から遡って連続して撮影した日数を返す。
//
// 記録をタイムスタンプの降順に並べ、今日からの日数差が期待値と一致する間だけ数える。
// 今日の記録がまだ無い場合は昨日から数え始める。同じ日の記録が複数あっても1日として扱う。
func Streak(records []model.DailyRecord, now time.Time, loc *time.Location) int {
	if len(records) == 0 {
		return 0
	}

	sorted := make([]model.DailyRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	today := civilDay(now, loc)
	expected := int64(0)
	if today-civilDay(sorted[0].Time(), loc) == 1 {
		expected = 1
	}

	streak := 0
	for _, r := range sorted {
		offset := today - civilDay(r.Time(), loc)
		switch {
		case offset == expected:
			streak++
			expected++
		case offset == expected-1 && streak > 0:
			// 数え済みの日の2枚目
			continue
		default:
			return streak
		}
	}
	return streak
}

// WeekStart はnowを含む週の開始時刻（weekStart曜日のloc上の0時）を返す。
func WeekStart(now time.Time, loc *time.Location, weekStart time.Weekday) time.Time {
	local := now.In(loc)
	back := (int(local.Weekday()) - int(weekStart) + 7) % 7
	y, m, d := local.Date()
	return time.Date(y, m, d-back, 0, 0, 0, 0, loc)
}

// WeeklyCount は今週の開始時刻以降に撮影された記録の数を返す。
// 週の開始時刻ちょうどの記録は含まれる。
func WeeklyCount(records []model.DailyRecord, now time.Time, loc *time.Location, weekStart time.Weekday) int {
	boundary := WeekStart(now, loc, weekStart).UnixMilli()
	count := 0
	for _, r := range records {
		if r.Timestamp >= boundary {
			count++
		}
	}
	return count
}

// Level は累計枚数からレベル（1〜5）を返す。
func Level(total int) int {
	for i, threshold := range levelThresholds {
		if total < threshold {
			return i + 1
		}
	}
	return len(levelThresholds) + 1
}

// ComputeStats はダッシュボード用の集計値をまとめて計算する。
func ComputeStats(records []model.DailyRecord, now time.Time, loc *time.Location, weekStart time.Weekday) model.Stats {
	_, taken := TodaysRecord(records, now, loc)
	return model.Stats{
		Total:      len(records),
		Streak:     Streak(records, now, loc),
		ThisWeek:   WeeklyCount(records, now, loc, weekStart),
		Level:      Level(len(records)),
		TakenToday: taken,
	}
}
