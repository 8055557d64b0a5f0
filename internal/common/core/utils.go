package core

import (
	"strings"
	"unicode/utf8"
)

// KeyBuilder constructs namespaced storage keys such as
// "hookcron:jobs:ping". It mirrors the fluent path builder used for
// REST paths, with ":" as separator.
type KeyBuilder struct {
	segments []string
}

func NewKeyBuilder(prefix string) *KeyBuilder {
	if prefix == "" {
		return &KeyBuilder{segments: []string{}}
	}
	return &KeyBuilder{segments: []string{strings.TrimSuffix(prefix, ":")}}
}

// Resource adds a collection segment (e.g. "jobs", "due").
func (k *KeyBuilder) Resource(resource string) *KeyBuilder {
	k.segments = append(k.segments, resource)
	return k
}

// Name adds a job name segment.
func (k *KeyBuilder) Name(name string) *KeyBuilder {
	k.segments = append(k.segments, name)
	return k
}

func (k *KeyBuilder) Build() string {
	return strings.Join(k.segments, ":")
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
