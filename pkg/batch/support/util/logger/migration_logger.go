package logger

import (
	"fmt"
	"sort"
	"strings"
)

// MigrationIdentity is the set of fields every migration log line is tagged with.
type MigrationIdentity struct {
	ID        int64
	Project   string
	Timestamp string
	Filename  string
}

// MigrationLogger is a structured sink that prefixes every message with the identity
// of the batched migration it concerns.
type MigrationLogger struct {
	prefix string
}

// NewMigrationLogger creates a MigrationLogger for the given migration identity.
func NewMigrationLogger(id MigrationIdentity) *MigrationLogger {
	return &MigrationLogger{
		prefix: fmt.Sprintf("batched_migration_id=%d project=%s timestamp=%s filename=%s",
			id.ID, id.Project, id.Timestamp, id.Filename),
	}
}

// Debug logs msg at DEBUG with the given key/value pairs.
func (l *MigrationLogger) Debug(msg string, kv ...interface{}) {
	Debugf("%s", l.format(msg, kv))
}

// Info logs msg at INFO with the given key/value pairs.
func (l *MigrationLogger) Info(msg string, kv ...interface{}) {
	Infof("%s", l.format(msg, kv))
}

// Warn logs msg at WARN with the given key/value pairs.
func (l *MigrationLogger) Warn(msg string, kv ...interface{}) {
	Warnf("%s", l.format(msg, kv))
}

// Error logs msg at ERROR with the given key/value pairs.
func (l *MigrationLogger) Error(msg string, kv ...interface{}) {
	Errorf("%s", l.format(msg, kv))
}

func (l *MigrationLogger) format(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	b.WriteString(" ")
	b.WriteString(l.prefix)
	b.WriteString(FormatFields(kv...))
	return b.String()
}

// FormatFields renders alternating key/value pairs as " k=v" segments.
// A trailing key without a value is rendered with a "<missing>" value.
func FormatFields(kv ...interface{}) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val interface{} = "<missing>"
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		fmt.Fprintf(&b, " %s=%v", key, val)
	}
	return b.String()
}

// FormatMap renders a map as sorted " k=v" segments.
func FormatMap(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]interface{}, 0, len(m)*2)
	for _, k := range keys {
		kv = append(kv, k, m[k])
	}
	return FormatFields(kv...)
}
