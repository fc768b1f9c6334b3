package models

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type TimeFrame string

const (
	TF1m  TimeFrame = "1m"
	TF3m  TimeFrame = "3m"
	TF5m  TimeFrame = "5m"
	TF15m TimeFrame = "15m"
	TF30m TimeFrame = "30m"
	TF1h  TimeFrame = "1h"
	TF2h  TimeFrame = "2h"
	TF4h  TimeFrame = "4h"
	TF6h  TimeFrame = "6h"
	TF8h  TimeFrame = "8h"
	TF12h TimeFrame = "12h"
	TF1d  TimeFrame = "1d"
	TF3d  TimeFrame = "3d"
	TF1w  TimeFrame = "1w"
	TF1M  TimeFrame = "1M"
)

var timeFrameSeconds = map[TimeFrame]int64{
	TF1m:  60,
	TF3m:  3 * 60,
	TF5m:  5 * 60,
	TF15m: 15 * 60,
	TF30m: 30 * 60,
	TF1h:  3600,
	TF2h:  2 * 3600,
	TF4h:  4 * 3600,
	TF6h:  6 * 3600,
	TF8h:  8 * 3600,
	TF12h: 12 * 3600,
	TF1d:  86400,
	TF3d:  3 * 86400,
	TF1w:  7 * 86400,
	TF1M:  30 * 86400,
}

// AllTimeFrames в порядке возрастания длительности.
var AllTimeFrames = []TimeFrame{
	TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF2h, TF4h, TF6h, TF8h, TF12h, TF1d, TF3d, TF1w, TF1M,
}

func ParseTimeFrame(s string) (TimeFrame, error) {
	s = strings.TrimSpace(s)
	if s == "1M" {
		return TF1M, nil
	}
	tf := TimeFrame(strings.ToLower(s))
	if _, ok := timeFrameSeconds[tf]; !ok {
		return "", errors.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

func (tf TimeFrame) Valid() bool {
	_, ok := timeFrameSeconds[tf]
	return ok
}

func (tf TimeFrame) Seconds() int64 { return timeFrameSeconds[tf] }

func (tf TimeFrame) Duration() time.Duration {
	return time.Duration(tf.Seconds()) * time.Second
}

// Align округляет время открытия вниз до границы таймфрейма.
func (tf TimeFrame) Align(ts float64) float64 {
	sec := float64(tf.Seconds())
	if sec <= 0 {
		return ts
	}
	return math.Floor(ts/sec) * sec
}

// MinTimeFrame возвращает самый короткий таймфрейм из списка.
func MinTimeFrame(tfs []TimeFrame) (TimeFrame, bool) {
	var (
		best  TimeFrame
		found bool
	)
	for _, tf := range tfs {
		if !tf.Valid() {
			continue
		}
		if !found || tf.Seconds() < best.Seconds() {
			best = tf
			found = true
		}
	}
	return best, found
}
