package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/workflow"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseFields turns key=value pairs into form data. A value that parses as
// JSON keeps its JSON type, so days=3 is a number and tags=["a","b"] a list.
func parseFields(pairs []string) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q is not key=value", p)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		data[key] = v
	}
	return data, nil
}

func versionOf(t *models.Template) string {
	v, err := workflow.VersionTag(t)
	if err != nil {
		return "?"
	}
	return v
}
