package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/gas"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testQuote() gas.Quote {
	var q gas.Quote
	q.Set(gas.TierFast, 40)
	q.Set(gas.TierStandard, 30)
	q.Set(gas.TierSlow, 20)
	q.At = time.Now()
	return q
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Bucket: time.Now(), Quote: testQuote(), ThresholdGwei: 25, Trend: gas.TrendIncreasing}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "gwei") {
		t.Fatalf("text 应包含费率信息: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Bucket: time.Now(), Quote: testQuote(), ThresholdGwei: 25}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	note := Notification{
		Bucket:        time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC),
		Quote:         testQuote(),
		ThresholdGwei: 25,
		Trend:         gas.TrendIncreasing,
		Channels:      []string{"telegram"},
	}

	text := renderMessage(note)
	for _, want := range []string{"Fast: 40 gwei", "Standard: 30 gwei", "Slow: 20 gwei", "Threshold: 25 gwei", "Trend: increasing", "Channels: telegram"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, text)
		}
	}
}

func TestRenderMessageSkipsAbsentTiers(t *testing.T) {
	var q gas.Quote
	q.Set(gas.TierStandard, 30)
	text := renderMessage(Notification{Bucket: time.Now(), Quote: q, ThresholdGwei: 25})

	if strings.Contains(text, "Fast:") || strings.Contains(text, "Slow:") {
		t.Fatalf("缺失的 tier 不应出现在消息中:\n%s", text)
	}
	if strings.Contains(text, "Trend:") {
		t.Fatalf("unknown trend 不应出现在消息中:\n%s", text)
	}
}
