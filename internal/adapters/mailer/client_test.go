package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPostsJSON(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/emails" {
			t.Errorf("неожиданный путь: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("нет заголовка авторизации")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/v1/", "key", "Brief <brief@example.com>")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	ok, err := client.Send(context.Background(), "reader@example.com", "Hello", "<p>hi</p>")
	if err != nil || !ok {
		t.Fatalf("ожидали успешную отправку: %v %v", ok, err)
	}
	if got.From != "Brief <brief@example.com>" || len(got.To) != 1 || got.To[0] != "reader@example.com" || got.HTML != "<p>hi</p>" {
		t.Fatalf("неожиданное тело запроса: %+v", got)
	}
}

func TestSendStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantOK  bool
		wantErr bool
	}{
		{name: "accepted", status: http.StatusAccepted, wantOK: true},
		{name: "invalid recipient", status: http.StatusUnprocessableEntity},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, wantErr: true},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"name":"validation_error","message":"nope"}`))
			}))
			defer srv.Close()

			client, err := New(srv.URL, "", "brief@example.com")
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			ok, err := client.Send(context.Background(), "reader@example.com", "s", "h")
			if ok != tt.wantOK || (err != nil) != tt.wantErr {
				t.Fatalf("Send() = %v, %v; want ok=%v err=%v", ok, err, tt.wantOK, tt.wantErr)
			}
		})
	}
}

func TestNewValidatesInput(t *testing.T) {
	if _, err := New("", "k", "a@example.com"); err == nil {
		t.Fatalf("ожидали ошибку без адреса API")
	}
	if _, err := New("https://api.example.com", "k", " "); err == nil {
		t.Fatalf("ожидали ошибку без отправителя")
	}
}
