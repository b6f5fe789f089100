package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid init request",
			req: &Request{
				Protocol:   Version,
				RunID:      "run-123",
				Command:    "init",
				Group:      "extinit_extensions",
				Entry:      "bin/setup:init",
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":2`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"run_id":"run-123"`) {
					t.Error("missing run_id field")
				}
				if !strings.Contains(output, `"command":"init"`) {
					t.Error("missing command field")
				}
				if !strings.Contains(output, `"entry":"bin/setup:init"`) {
					t.Error("missing entry field")
				}
				if strings.Contains(output, `"dist"`) {
					t.Error("empty dist should be omitted")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 1, Command: "init"},
			wantErr: true,
		},
		{
			name:    "missing command",
			req:     &Request{Protocol: Version},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "valid ok response",
			input: `{"status":"ok"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.OK() {
					t.Errorf("want OK, got status %s", resp.Status)
				}
			},
		},
		{
			name:  "valid error response",
			input: `{"status":"error","error":"missing dependency"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.OK() {
					t.Error("error response reported OK")
				}
				if resp.Error != "missing dependency" {
					t.Errorf("want error message, got %s", resp.Error)
				}
			},
		},
		{
			name:  "response with logs",
			input: `{"status":"ok","logs":[{"level":"info","message":"registered codecs"}]}`,
			checkFn: func(t *testing.T, resp *Response) {
				if len(resp.Logs) != 1 {
					t.Fatalf("want 1 log, got %d", len(resp.Logs))
				}
				if resp.Logs[0].Message != "registered codecs" {
					t.Error("log message not parsed")
				}
			},
		},
		{name: "unknown field rejected", input: `{"status":"ok","extra":1}`, wantErr: true},
		{name: "missing status field", input: `{"logs":[]}`, wantErr: true},
		{name: "invalid status value", input: `{"status":"unknown"}`, wantErr: true},
		{name: "error status without message", input: `{"status":"error"}`, wantErr: true},
		{name: "invalid JSON", input: `{not json}`, wantErr: true},
		{name: "empty input", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid JSON response", input: `{"status":"ok"}`},
		{name: "unknown fields tolerated", input: `{"status":"ok","extra":true}`},
		{name: "invalid JSON captures raw data", input: `not json at all`, wantErr: true},
		{name: "empty output", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, rawData, err := DecodeResponseLenient(strings.NewReader(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeResponseLenient() error = %v, wantErr %v", err, tt.wantErr)
			}

			if len(rawData) != len(tt.input) {
				t.Errorf("raw data length = %d, want %d", len(rawData), len(tt.input))
			}

			if !tt.wantErr && resp == nil {
				t.Error("expected response to be parsed")
			}
		})
	}
}

func TestResponseOKNil(t *testing.T) {
	var resp *Response
	if resp.OK() {
		t.Error("nil response reported OK")
	}
}
