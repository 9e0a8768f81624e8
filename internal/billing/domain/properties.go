package domain

import (
	"fmt"
	"strings"
)

// PluginProperty is a caller-supplied key/value hint, e.g. a location override.
type PluginProperty struct {
	Key   string
	Value any
}

type Properties []PluginProperty

// Value returns the first non-empty value stored under key.
func (p Properties) Value(key string) (string, bool) {
	for _, prop := range p {
		if prop.Key != key || prop.Value == nil {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(prop.Value))
		if value != "" {
			return value, true
		}
	}
	return "", false
}

func (p Properties) String(key string) string {
	value, _ := p.Value(key)
	return value
}
