package observetest

import "go.opentelemetry.io/otel/attribute"

func matches(attrs []attribute.KeyValue, match []string) bool {
	for i := 0; i+1 < len(match); i += 2 {
		found := false
		for _, kv := range attrs {
			if string(kv.Key) == match[i] && kv.Value.Emit() == match[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
