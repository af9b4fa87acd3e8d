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

func Uint64(key string, value uint64) Field {
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

// Domain fields

func Component(name string) Field {
	return String("component", name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

// Position is a transition record position
func Position(pos uint64) Field {
	return Uint64("position", pos)
}

func ClientID(id string) Field {
	return String("client_id", id)
}

// State is an ingest state name
func State(s string) Field {
	return String("state", s)
}

// Attempt is a 1-based reconnect attempt number
func Attempt(n int) Field {
	return Int("attempt", n)
}

func Addr(addr string) Field {
	return String("addr", addr)
}
