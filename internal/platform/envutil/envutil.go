package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

// Lookup is the source consulted by every helper. Tests and the config file overlay replace it.
type Lookup func(key string) (string, bool)

func OSLookup(key string) (string, bool) { return os.LookupEnv(key) }

type Reader struct {
	lookup Lookup
	log    *logger.Logger
}

func NewReader(lookup Lookup, log *logger.Logger) *Reader {
	if lookup == nil {
		lookup = OSLookup
	}
	return &Reader{lookup: lookup, log: log}
}

func (r *Reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *Reader) String(key, def string) string {
	v, ok := r.raw(key)
	if !ok {
		r.debugDefault(key, def)
		return def
	}
	return v
}

func (r *Reader) Int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		r.debugDefault(key, def)
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.debugUnparsable(key, v, def, err)
		return def
	}
	return i
}

func (r *Reader) Bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		r.debugDefault(key, def)
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		r.debugUnparsable(key, v, def, nil)
		return def
	}
}

func (r *Reader) Float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		r.debugDefault(key, def)
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.debugUnparsable(key, v, def, err)
		return def
	}
	return f
}

// Duration accepts Go duration strings ("15s") or a bare number of seconds.
func (r *Reader) Duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		r.debugDefault(key, def)
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	r.debugUnparsable(key, v, def, nil)
	return def
}

// List splits a comma separated value, dropping empty entries.
func (r *Reader) List(key string) []string {
	v, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *Reader) debugDefault(key string, def interface{}) {
	if r.log != nil {
		r.log.Debug("Environment variable not found, using default", "env_var", key, "default", def)
	}
}

func (r *Reader) debugUnparsable(key, provided string, def interface{}, err error) {
	if r.log != nil {
		r.log.Debug("Environment variable could not be parsed, using default", "env_var", key, "provided", provided, "default", def, "error", err)
	}
}

// Int keeps the package-level shorthand used by collectors.
func Int(name string, def int) int {
	return NewReader(OSLookup, nil).Int(name, def)
}
