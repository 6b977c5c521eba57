package wire

import (
	"encoding/json"
	"testing"
)

func TestGameIDAcceptsStringAndNumber(t *testing.T) {
	cases := []struct {
		raw  string
		want GameID
	}{
		{`{"type":"RESET","data":{"gameId":"abc42"}}`, "abc42"},
		{`{"type":"RESET","data":{"gameId":1234}}`, "1234"},
	}
	for _, tc := range cases {
		var env Envelope
		if err := json.Unmarshal([]byte(tc.raw), &env); err != nil {
			t.Fatalf("envelope: %v", err)
		}
		var req ResetRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			t.Fatalf("reset payload: %v", err)
		}
		if req.GameID != tc.want {
			t.Fatalf("gameId = %q, want %q", req.GameID, tc.want)
		}
	}
}

func TestFlagAcceptsBoolAndString(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"user":"tok","gameId":"g","againstAI":true}`, true},
		{`{"user":"tok","gameId":"g","againstAI":"true"}`, true},
		{`{"user":"tok","gameId":"g","againstAI":"false"}`, false},
		{`{"user":"tok","gameId":"g"}`, false},
	}
	for _, tc := range cases {
		var req StartRequest
		if err := json.Unmarshal([]byte(tc.raw), &req); err != nil {
			t.Fatalf("start payload %s: %v", tc.raw, err)
		}
		if bool(req.AgainstAI) != tc.want {
			t.Fatalf("againstAI for %s = %v, want %v", tc.raw, req.AgainstAI, tc.want)
		}
	}
}

func TestSearchGameCodeTopLevelCode(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"SEARCHGAMECODE","code":77}`), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.Code != "77" {
		t.Fatalf("code = %q, want 77", env.Code)
	}
}
