package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultGeoLiteUpdateInterval = 7 * 24 * time.Hour
	defaultFetchTimeout          = 10 * time.Minute
)

var (
	geoLiteUpdateInterval  atomic.Value
	geoLiteUpdateListeners []chan time.Duration
	listenersMu            sync.Mutex
)

func init() {
	geoLiteUpdateInterval.Store(defaultGeoLiteUpdateInterval)
}

func SetBetweenTime() {
	setGeoLiteUpdateInterval(calculateGeoLiteUpdateInterval(GetConfig()))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

func GetFetchTimeout() time.Duration {
	timer := GetConfig().GeoLite.FetchTimeout
	if timer.IsZero() {
		return defaultFetchTimeout
	}
	return CalculateBetweenTime(timer)
}

func GetGeoLiteUpdateInterval() time.Duration {
	return geoLiteUpdateInterval.Load().(time.Duration)
}

// GeoLiteUpdateIntervalUpdates returns a channel primed with the current
// interval that receives every later change.
func GeoLiteUpdateIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	geoLiteUpdateListeners = append(geoLiteUpdateListeners, ch)
	listenersMu.Unlock()

	ch <- GetGeoLiteUpdateInterval()
	return ch
}

func setGeoLiteUpdateInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultGeoLiteUpdateInterval
	}
	current := GetGeoLiteUpdateInterval()
	if current == interval {
		return
	}
	geoLiteUpdateInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range geoLiteUpdateListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateGeoLiteUpdateInterval(cfg Config) time.Duration {
	timer := cfg.GeoLite.UpdateTimer
	if timer.IsZero() {
		return defaultGeoLiteUpdateInterval
	}
	return CalculateBetweenTime(timer)
}
