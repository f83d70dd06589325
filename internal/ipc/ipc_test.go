package ipc

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"expandd/internal/logging"
)

type fakeDaemon struct {
	locked     bool
	reloadErr  error
	lockCalls  int
	statusResp StatusResponse
	snippets   []SnippetInfo
}

func (d *fakeDaemon) Status() (*StatusResponse, error) {
	resp := d.statusResp
	resp.Locked = d.locked
	return &resp, nil
}

func (d *fakeDaemon) SetLocked(locked bool) (bool, error) {
	d.lockCalls++
	d.locked = locked
	return d.locked, nil
}

func (d *fakeDaemon) ReloadConfig() (*ReloadResponse, error) {
	if d.reloadErr != nil {
		return nil, d.reloadErr
	}
	return &ReloadResponse{SnippetCount: len(d.snippets), BindingCount: 3}, nil
}

func (d *fakeDaemon) ListSnippets() ([]SnippetInfo, error) {
	return d.snippets, nil
}

func startTestServer(t *testing.T, daemon Daemon) (*Server, *Client) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "expandd.sock")
	srv := NewServer(sock, daemon, logging.Default().Logger)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	client := NewClient(sock)
	if err := client.Connect(); err != nil {
		t.Fatalf("connecting client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return srv, client
}

func TestHeaderRoundTrip(t *testing.T) {
	msg := NewMessage(MsgStatusRequest, 42, []byte(`{"a":1}`))

	var buf bytes.Buffer
	if err := msg.Write(&buf); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	if got.Header.Type != MsgStatusRequest {
		t.Errorf("type = 0x%04x, want 0x%04x", uint16(got.Header.Type), uint16(MsgStatusRequest))
	}
	if got.Header.RequestID != 42 {
		t.Errorf("request id = %d, want 42", got.Header.RequestID)
	}
	if string(got.Payload) != `{"a":1}` {
		t.Errorf("payload = %q", got.Payload)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := ReadHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected error for zero magic")
	}
}

func TestPing(t *testing.T) {
	_, client := startTestServer(t, &fakeDaemon{})

	if err := client.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStatus(t *testing.T) {
	daemon := &fakeDaemon{
		statusResp: StatusResponse{
			Version:        "1.2.3",
			SnippetCount:   7,
			ExpansionCount: 100,
			HookBackend:    "simulated",
		},
	}
	_, client := startTestServer(t, daemon)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", status.Version)
	}
	if status.SnippetCount != 7 {
		t.Errorf("snippet count = %d, want 7", status.SnippetCount)
	}
	if status.Locked {
		t.Error("expected unlocked status")
	}
}

func TestLockUnlock(t *testing.T) {
	daemon := &fakeDaemon{}
	_, client := startTestServer(t, daemon)

	resp, err := client.Lock()
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !resp.Locked {
		t.Error("expected locked after Lock")
	}

	resp, err = client.Unlock()
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if resp.Locked {
		t.Error("expected unlocked after Unlock")
	}
	if daemon.lockCalls != 2 {
		t.Errorf("lock calls = %d, want 2", daemon.lockCalls)
	}
}

func TestReload(t *testing.T) {
	daemon := &fakeDaemon{snippets: []SnippetInfo{
		{ID: "sig", Trigger: ";sig", ContentLen: 12},
		{ID: "mail", Trigger: "!mail", ContentLen: 30},
	}}
	_, client := startTestServer(t, daemon)

	result, err := client.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if result.SnippetCount != 2 {
		t.Errorf("snippet count = %d, want 2", result.SnippetCount)
	}
}

func TestReloadErrorSurfaced(t *testing.T) {
	daemon := &fakeDaemon{reloadErr: errors.New("config file is invalid")}
	_, client := startTestServer(t, daemon)

	_, err := client.Reload()
	if err == nil {
		t.Fatal("expected reload error")
	}
	if !strings.Contains(err.Error(), "config file is invalid") {
		t.Errorf("error = %v, want daemon message preserved", err)
	}
}

func TestListSnippets(t *testing.T) {
	daemon := &fakeDaemon{snippets: []SnippetInfo{
		{ID: "sig", Trigger: ";sig", ContentLen: 12},
	}}
	_, client := startTestServer(t, daemon)

	snippets, err := client.ListSnippets()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(snippets) != 1 || snippets[0].Trigger != ";sig" {
		t.Errorf("snippets = %+v", snippets)
	}
}

func TestMultipleRequestsOnOneConnection(t *testing.T) {
	_, client := startTestServer(t, &fakeDaemon{})

	for i := 0; i < 5; i++ {
		if err := client.Ping(); err != nil {
			t.Fatalf("ping %d failed: %v", i, err)
		}
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	srv, client := startTestServer(t, &fakeDaemon{})

	if err := srv.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := client.Ping(); err == nil {
		t.Fatal("expected ping to fail after server stop")
	}
}

func TestStaleSocketCleanup(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "expandd.sock")

	srv := NewServer(sock, &fakeDaemon{}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting first server: %v", err)
	}

	// A second daemon must refuse to steal a live socket.
	dup := NewServer(sock, &fakeDaemon{}, nil)
	if err := dup.Start(); err == nil {
		dup.Stop()
		t.Fatal("expected second server on live socket to fail")
	}
	srv.Stop()

	// After a clean stop the socket file is gone and rebinding works.
	again := NewServer(sock, &fakeDaemon{}, nil)
	if err := again.Start(); err != nil {
		t.Fatalf("rebinding after stop: %v", err)
	}
	again.Stop()
}

func TestIsUnixAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"/run/user/1000/expandd.sock", true},
		{"expandd.sock", true},
		{"127.0.0.1:7393", false},
		{`C:\Users\me\expandd.sock`, true},
	}
	for _, tc := range cases {
		if got := isUnixAddr(tc.addr); got != tc.want {
			t.Errorf("isUnixAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}
