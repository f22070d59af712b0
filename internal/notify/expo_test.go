package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExpoDispatchSuccess(t *testing.T) {
	var received Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type 不正确: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]string{"status": "ok"}}})
	}))
	defer srv.Close()

	dispatcher := NewExpoDispatcher(srv.URL, time.Second, zerolog.Nop())
	msg := Message{
		To:    []string{"ExponentPushToken[abc]"},
		Sound: "default",
		Title: "Drawdown Alert",
		Body:  "Bitcoin has reached 16.2% drawdown from peak!",
		Data:  map[string]string{"type": "drawdown", "asset": "BTC"},
	}

	if err := dispatcher.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch 应成功: %v", err)
	}

	if len(received.To) != 1 || received.To[0] != "ExponentPushToken[abc]" {
		t.Fatalf("to 不正确: %#v", received.To)
	}
	if received.Title == "" || received.Body == "" {
		t.Fatal("title 与 body 应非空")
	}
	if received.Data["type"] != "drawdown" {
		t.Fatalf("data.type 不正确: %#v", received.Data)
	}
}

func TestExpoDispatchNoRecipients(t *testing.T) {
	dispatcher := NewExpoDispatcher("http://unused", time.Second, zerolog.Nop())
	if err := dispatcher.Dispatch(context.Background(), Message{Title: "x"}); err == nil {
		t.Fatal("空收件人应报错")
	}
}

func TestExpoDispatchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dispatcher := NewExpoDispatcher(srv.URL, time.Second, zerolog.Nop())
	msg := Message{To: []string{"tok"}, Title: "t", Body: "b"}
	if err := dispatcher.Dispatch(context.Background(), msg); err == nil {
		t.Fatal("5xx 应报错")
	}
}

func TestExpoDispatchRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []any{map[string]string{"code": "PUSH_TOO_MANY_EXPERIENCE_IDS", "message": "bad batch"}},
		})
	}))
	defer srv.Close()

	dispatcher := NewExpoDispatcher(srv.URL, time.Second, zerolog.Nop())
	msg := Message{To: []string{"tok"}, Title: "t", Body: "b"}
	if err := dispatcher.Dispatch(context.Background(), msg); err == nil {
		t.Fatal("relay errors 应报错")
	}
}
