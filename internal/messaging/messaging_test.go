package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/config"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+58 412-123.45.67": "584121234567",
		"0058 4121234567":   "584121234567",
		"04121234567":       "584121234567",
		"4241234567":        "584241234567",
		"584141234567":      "584141234567",
		"12345":             "",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestParseInbound(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Inbound
		err  error
	}{
		{
			name: "flat",
			body: `{"phone":"0412-1234567","message":" 123456 ","id":"m1"}`,
			want: Inbound{ID: "m1", Phone: "584121234567", Message: "123456"},
		},
		{
			name: "flat alternative keys",
			body: `{"from":"+584121234567","text":"hola","audio_url":"https://cdn/a.ogg"}`,
			want: Inbound{Phone: "584121234567", Message: "hola", AudioURL: "https://cdn/a.ogg"},
		},
		{
			name: "cloud",
			body: `{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.1","from":"584241112233","type":"text","text":{"body":"estado"}}]}}]}]}`,
			want: Inbound{ID: "wamid.1", Phone: "584241112233", Message: "estado"},
		},
		{
			name: "cloud status callback",
			body: `{"entry":[{"changes":[{"value":{"statuses":[{"id":"x"}]}}]}]}`,
			err:  ErrEmptyInbound,
		},
		{
			name: "no phone",
			body: `{"message":"hola"}`,
			err:  ErrEmptyInbound,
		},
	}
	for _, c := range cases {
		got, err := ParseInbound([]byte(c.body))
		if c.err != nil {
			if !errors.Is(err, c.err) {
				t.Errorf("%s: expected %v, got %v", c.name, c.err, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("%s: got %+v (%v) want %+v", c.name, got, err, c.want)
		}
	}
}

func TestGateway_SendText(t *testing.T) {
	var got outbound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Header.Get("Authorization") != "Bearer gw" {
			t.Errorf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewGateway(config.GatewayConfig{URL: srv.URL + "/", Token: "gw", Timeout: time.Second})
	if err := g.SendText(context.Background(), "584121234567", "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Phone != "584121234567" || got.Message != "hola" {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestGateway_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "audio/ogg")
			io.WriteString(w, "OggS")
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(config.GatewayConfig{URL: srv.URL})
	if err := g.SendText(context.Background(), "5841", "x"); err == nil {
		t.Error("expected error on 502")
	}
	b, ct, err := g.Fetch(context.Background(), srv.URL+"/media/1")
	if err != nil || string(b) != "OggS" || ct != "audio/ogg" {
		t.Errorf("fetch: %q %q %v", b, ct, err)
	}
}
