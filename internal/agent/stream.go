package agent

import (
	"encoding/json"
	"strings"
)

// streamRecord is one NDJSON line from the agent CLI. The CLIs emit more
// fields than these; everything else is ignored.
type streamRecord struct {
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Text      string          `json:"text"`
	Result    string          `json:"result"`
	Tool      string          `json:"tool"`
	ToolInput json.RawMessage `json:"tool_input"`
}

// parseStreamLine decodes one stdout line. ok is false when the line is not a
// JSON object; callers then treat the raw line as plain text.
func parseStreamLine(line string) (*streamRecord, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var rec streamRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, false
	}
	if rec.Type == "" {
		return nil, false
	}
	return &rec, true
}

// toolInputText renders a tool_use payload for the permission guard. JSON
// string payloads come back unquoted; objects are scanned as-is so command
// strings buried in fields still match.
func (r *streamRecord) toolInputText() string {
	if len(r.ToolInput) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.ToolInput, &s); err == nil {
		return s
	}
	return string(r.ToolInput)
}

// textContent returns whichever text payload the record carries.
func (r *streamRecord) textContent() string {
	switch {
	case r.Content != "":
		return r.Content
	case r.Text != "":
		return r.Text
	case r.Result != "":
		return r.Result
	}
	return ""
}
