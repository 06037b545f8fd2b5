package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain helpers so the same keys are used everywhere.

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Hash(h string) Field {
	return String("hash", h)
}

func Version(v string) Field {
	return String("version", v)
}

func SnapshotID(id string) Field {
	return String("snapshot_id", id)
}

func DiffID(id string) Field {
	return String("diff_id", id)
}

func BundleID(id string) Field {
	return String("bundle_id", id)
}

func CorrelationID(id string) Field {
	return String("correlation_id", id)
}

func Reason(r string) Field {
	return String("reason", r)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}
