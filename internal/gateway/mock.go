package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const mockTimestampLayout = "2006-01-02T15:04:05.000Z"

type mockStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type mockResponse struct {
	OK            bool       `json:"ok"`
	Engine        string     `json:"engine"`
	ReceivedInput string     `json:"received_input"`
	Steps         []mockStep `json:"steps"`
	Summary       string     `json:"summary"`
	Timestamp     string     `json:"timestamp"`
}

// simulate answers locally for a request with no upstream endpoint, echoing
// the payload's "input" field.
func simulate(payload []byte, now time.Time) (*Result, error) {
	input := gjson.GetBytes(payload, "input").String()

	resp := mockResponse{
		OK:            true,
		Engine:        "mock",
		ReceivedInput: input,
		Steps: []mockStep{
			{Name: "parse", Status: "ok"},
			{Name: "analyze", Status: "ok"},
			{Name: "summarize", Status: "ok"},
		},
		Summary:   `AI Pipe mock processed: "` + input + `"`,
		Timestamp: now.UTC().Format(mockTimestampLayout),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return nil, fmt.Errorf("encode mock response: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &Result{
		Status: http.StatusOK,
		Body:   json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")),
		Header: header,
		Mode:   ModeMock,
	}, nil
}
