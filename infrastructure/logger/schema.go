package logger

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"flow_event": {
		Event:    "flow_event",
		Required: []string{"flow", "step", "outcome"},
	},
	"validation_event": {
		Event:    "validation_event",
		Required: []string{"source", "valid", "ts"},
	},
	"reload_event": {
		Event:    "reload_event",
		Required: []string{"path", "applied"},
	},
	"error_event": {
		Event:    "error_event",
		Required: []string{"error", "ts"},
	},
	"alert_event": {
		Event:    "alert_event",
		Required: []string{"alert_level", "message", "ts"},
	},
}

// KnownEvents 返回所有事件名，便于外部生成文档。
func KnownEvents() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateEvent 检查日志字段是否包含 schema 中要求的 key；未知事件不检查。
func ValidateEvent(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
