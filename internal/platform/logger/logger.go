package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Options configures a Logger. Redaction replaces credential-like values and hashes
// actor and session identifiers so they stay correlatable without being readable.
type Options struct {
	Mode     string
	Service  string
	Redact   bool
	HashSalt string
}

// OptionsFromEnv reads LOG_REDACTION_ENABLED and LOG_HASH_SALT. Redaction is on unless disabled.
func OptionsFromEnv(mode string) Options {
	o := Options{Mode: mode, Service: "schema-registry", Redact: true, HashSalt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))}
	switch strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		o.Redact = false
	}
	return o
}

type Logger struct {
	SugaredLogger *zap.SugaredLogger
	redact        *redactor
}

func New(mode string) (*Logger, error) {
	return NewWithOptions(OptionsFromEnv(mode))
}

func NewWithOptions(o Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(o.Mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	if o.Service != "" {
		cfg.InitialFields = map[string]interface{}{"service": o.Service}
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	var r *redactor
	if o.Redact {
		r = &redactor{salt: o.HashSalt}
	}
	return &Logger{SugaredLogger: zl.Sugar(), redact: r}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.SugaredLogger.Debugw(msg, l.redact.kvs(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.SugaredLogger.Infow(msg, l.redact.kvs(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.SugaredLogger.Warnw(msg, l.redact.kvs(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.SugaredLogger.Errorw(msg, l.redact.kvs(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, l.redact.kvs(keysAndValues)...)
}

func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil {
		return Nop().With(keysAndValues...)
	}
	return &Logger{SugaredLogger: l.SugaredLogger.With(l.redact.kvs(keysAndValues)...), redact: l.redact}
}

// Named scopes the logger to a component, e.g. "publisher".
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger.Named(component), redact: l.redact}
}

const redacted = "[REDACTED]"

var (
	redactNeedles = []string{"secret", "token", "authorization", "password", "cookie", "api_key", "apikey", "credentials"}
	hashNeedles   = []string{"actor_id", "user_id", "session_id"}
)

// redactor is nil when redaction is off; a nil redactor passes values through.
type redactor struct {
	salt string
}

func (r *redactor) kvs(kv []interface{}) []interface{} {
	if r == nil || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := toString(kv[i])
		out = append(out, key, r.value(normalizeKey(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func (r *redactor) value(key string, val interface{}) interface{} {
	switch {
	case key == "":
		return val
	case containsAny(key, redactNeedles):
		return redacted
	case containsAny(key, hashNeedles):
		return r.hash(val)
	}
	if m, ok := val.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = r.value(normalizeKey(k), v)
		}
		return out
	}
	return val
}

func (r *redactor) hash(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	_, _ = h.Write([]byte(r.salt))
	_, _ = h.Write([]byte(raw))
	return "hash:" + hex.EncodeToString(h.Sum(nil))[:12]
}

func normalizeKey(k string) string {
	return strings.TrimSpace(strings.ToLower(k))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
