package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, "request"},
		{"string id request", `{"jsonrpc":"2.0","id":"abc","method":"tools/list"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg AnyMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			require.Equal(t, tc.want, msg.Type())
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	bad := []string{
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":{"x":1},"method":"ping"}`,
	}
	for _, raw := range bad {
		var msg AnyMessage
		require.Error(t, json.Unmarshal([]byte(raw), &msg), raw)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	var id RequestID
	require.NoError(t, json.Unmarshal([]byte(`42`), &id))
	require.Equal(t, "42", id.String())
	b, err := json.Marshal(&id)
	require.NoError(t, err)
	require.JSONEq(t, `42`, string(b))

	require.NoError(t, json.Unmarshal([]byte(`"req-7"`), &id))
	require.Equal(t, "req-7", id.String())
}

func TestErrorResponseWithNilIDMarshalsNull(t *testing.T) {
	resp := NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil)
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, string(b))
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification("notifications/message", map[string]any{"level": "info"})
	require.NoError(t, err)
	b, err := json.Marshal(n)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`, string(b))
}
