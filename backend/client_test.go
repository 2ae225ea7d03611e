package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

type recordedCall struct {
	path   string
	auth   string
	body   map[string]any
	status int
	reply  string
}

func newRecordingServer(t *testing.T, calls *[]recordedCall, status int, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, recordedCall{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: body,
		})
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
}

func TestChatSelectsEndpointPerCaller(t *testing.T) {
	var calls []recordedCall
	srv := newRecordingServer(t, &calls, http.StatusOK, `{"new_thread_id":"thread_next1"}`)
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)

	resp, err := client.Chat(context.Background(), assistant.Caller{GuestID: "g-1"}, ChatRequest{Question: "hi"})
	require.NoError(t, err)
	require.Equal(t, "thread_next1", resp.NewThreadID)

	_, err = client.Chat(context.Background(), assistant.Caller{UserID: 7, AccessToken: "tok"}, ChatRequest{Question: "hi"})
	require.NoError(t, err)

	require.Len(t, calls, 2)

	guest := calls[0]
	require.Equal(t, "/api/guest-chat/", guest.path)
	require.Empty(t, guest.auth)
	require.Equal(t, "g-1", guest.body["guest_id"])
	require.NotContains(t, guest.body, "user_id")

	authed := calls[1]
	require.Equal(t, "/api/chat/", authed.path)
	require.Equal(t, "Bearer tok", authed.auth)
	require.Equal(t, float64(7), authed.body["user_id"])
	require.NotContains(t, authed.body, "guest_id")
}

func TestCallToolSelectsEndpointPerCaller(t *testing.T) {
	var calls []recordedCall
	srv := newRecordingServer(t, &calls, http.StatusOK, `{"output":"{\"dishes\":[]}"}`)
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)

	req := platform.ToolCallRequest{ID: "call_a", Name: "search_dishes", Arguments: `{"query":"soup"}`}

	result, err := client.CallTool(context.Background(), assistant.Caller{GuestID: "g-1"}, req)
	require.NoError(t, err)
	require.Equal(t, "call_a", result.ToolCallID, "missing id is backfilled from the request")
	require.Equal(t, `{"dishes":[]}`, result.Output)

	_, err = client.CallTool(context.Background(), assistant.Caller{UserID: 7, AccessToken: "tok"}, req)
	require.NoError(t, err)

	require.Equal(t, "/api/guest-tool-call/", calls[0].path)
	require.Equal(t, "/api/tool-call/", calls[1].path)
	require.Equal(t, "Bearer tok", calls[1].auth)

	wire, ok := calls[0].body["tool_call"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "call_a", wire["id"])
	require.Equal(t, "search_dishes", wire["function"])
}

func TestResetConversationRotatesGuestID(t *testing.T) {
	var calls []recordedCall
	srv := newRecordingServer(t, &calls, http.StatusOK, `{"guest_id":"g-rotated"}`)
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)

	rotated, err := client.ResetConversation(context.Background(), assistant.Caller{GuestID: "g-old"})
	require.NoError(t, err)
	require.Equal(t, "g-rotated", rotated)
	require.Equal(t, "/api/guest-new-conversation/", calls[0].path)
	require.Equal(t, "g-old", calls[0].body["guest_id"])
}

func TestResetConversationAuthenticated(t *testing.T) {
	var calls []recordedCall
	srv := newRecordingServer(t, &calls, http.StatusOK, `{}`)
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)

	rotated, err := client.ResetConversation(context.Background(), assistant.Caller{UserID: 7, AccessToken: "tok"})
	require.NoError(t, err)
	require.Empty(t, rotated)
	require.Equal(t, "/api/new-conversation/", calls[0].path)
	require.NotContains(t, calls[0].body, "guest_id")
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	var calls []recordedCall
	srv := newRecordingServer(t, &calls, http.StatusBadGateway, `{"detail":"upstream exploded"}`)
	defer srv.Close()
	client := NewClient(srv.URL, time.Second)

	_, err := client.Chat(context.Background(), assistant.Caller{GuestID: "g-1"}, ChatRequest{Question: "hi"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.Contains(t, statusErr.Body, "upstream exploded")
	require.NotContains(t, statusErr.Error(), "upstream exploded", "body stays out of the error string")
}
