package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactorReplacesCredentials(t *testing.T) {
	r := &redactor{}
	require.Equal(t, redacted, r.value("composition_secret", "s3cr3t"))
	require.Equal(t, redacted, r.value("authorization", "Bearer abc"))
	require.Equal(t, redacted, r.value("github_token", "ghp_x"))
}

func TestRedactorHashesActorIdentifiers(t *testing.T) {
	r := &redactor{}
	got, ok := r.value("actor_id", "user-123").(string)
	require.True(t, ok)
	require.NotEqual(t, "user-123", got)
	require.Len(t, got, len("hash:")+12)
	require.Equal(t, got, r.value("session_id", "user-123"), "hash must be stable across keys")

	salted := &redactor{salt: "pepper"}
	require.NotEqual(t, got, salted.value("actor_id", "user-123"))
}

func TestRedactorLeavesOrdinaryFields(t *testing.T) {
	r := &redactor{}
	require.Equal(t, "abc", r.value("target_id", "abc"))
	nested := r.value("payload", map[string]interface{}{"Secret": "x", "name": "y"}).(map[string]interface{})
	require.Equal(t, redacted, nested["Secret"])
	require.Equal(t, "y", nested["name"])
}

func TestRedactorKeepsOddTrailingValue(t *testing.T) {
	r := &redactor{}
	out := r.kvs([]interface{}{"token", "t", "dangling"})
	require.Equal(t, []interface{}{"token", redacted, "dangling"}, out)

	var off *redactor
	in := []interface{}{"token", "t"}
	require.Equal(t, in, off.kvs(in))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", "k", "v")
	l.With("component", "x").Debug("still fine")
	l.Named("publisher").Warn("fine too")
}
