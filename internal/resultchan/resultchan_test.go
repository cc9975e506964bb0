package resultchan

import (
	"os"
	"testing"
)

func TestChannel_CollectAndReset(t *testing.T) {
	ch, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	msgs := []Message{
		{Key: "url", Values: []string{"https://example.com/report"}},
		{Key: "img", Values: []string{"https://example.com/plot.png", "speed", "plot"}},
		{Key: "emoji", Values: []string{":rocket:"}},
	}
	for _, m := range msgs {
		if err := Append(ch.Path(), m); err != nil {
			t.Fatal(err)
		}
	}

	info, err := ch.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if info["url"] != "https://example.com/report" {
		t.Errorf("url = %q", info["url"])
	}
	if info["img"] != "https://example.com/plot.png speed plot" {
		t.Errorf("img = %q", info["img"])
	}
	if info["emoji"] != ":rocket:" {
		t.Errorf("emoji = %q", info["emoji"])
	}

	if err := ch.Reset(); err != nil {
		t.Fatal(err)
	}
	info, err = ch.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 0 {
		t.Errorf("after reset info = %v, want empty", info)
	}
}

func TestChannel_EmptyWhenNeverInvoked(t *testing.T) {
	ch, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	info, err := ch.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 0 {
		t.Errorf("info = %v, want empty", info)
	}
}

func TestChannel_SkipsCorruptLines(t *testing.T) {
	ch, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	content := "not json\n" + `{"key":"emoji","values":[":tada:"]}` + "\n"
	if err := os.WriteFile(ch.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	info, err := ch.Collect()
	if err != nil {
		t.Fatal(err)
	}
	if info["emoji"] != ":tada:" {
		t.Errorf("emoji = %q, want :tada:", info["emoji"])
	}
	if len(info) != 1 {
		t.Errorf("info = %v, want only emoji", info)
	}
}

func TestValidate_URL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/x", true},
		{"http://example.com", true},
		{"file:///var/reports/x", true},
		{"example.com/x", false},
		{"/relative/path", false},
		{"mailto:user@example.com", false},
	}
	for _, tt := range tests {
		err := Validate(Message{Key: "url", Values: []string{tt.url}})
		if tt.ok && err != nil {
			t.Errorf("Validate(url=%q) = %v, want nil", tt.url, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("Validate(url=%q) = nil, want error", tt.url)
		}
	}

	if err := Validate(Message{Key: "url", Values: []string{"https://a.com", "https://b.com"}}); err == nil {
		t.Error("url with two values should be rejected")
	}
	if err := Validate(Message{Key: ""}); err == nil {
		t.Error("empty key should be rejected")
	}
	if err := Validate(Message{Key: "notes", Values: []string{"anything", "goes"}}); err != nil {
		t.Errorf("non-url key rejected: %v", err)
	}
}
