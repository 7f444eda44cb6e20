package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/channelhost/host/internal/channel"
	"github.com/channelhost/host/internal/config"
	"github.com/channelhost/host/internal/server"
)

func runWithArgs(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"channelhost"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs("version")
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if out != "channelhost dev\n" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := runWithArgs("nope")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "unknown command") {
		t.Fatalf("expected unknown command error, got %q", errOut)
	}
}

func TestHashToken(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		code, out, errOut := runWithArgs("hash-token", "--cost", "4", "s3cret")
		if code != 0 {
			t.Fatalf("exit %d: %s", code, errOut)
		}
		hash := strings.TrimSpace(out)
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
			t.Fatalf("hash does not verify: %v", err)
		}
	})

	t.Run("stdin", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		root := newRootCmd(&stdout, &stderr)
		root.SetIn(strings.NewReader("from-stdin\n"))
		root.SetArgs([]string{"hash-token", "--cost", "4"})
		if err := root.Execute(); err != nil {
			t.Fatalf("Execute() error: %v", err)
		}
		hash := strings.TrimSpace(stdout.String())
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("from-stdin")); err != nil {
			t.Fatalf("hash does not verify: %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		root := newRootCmd(&stdout, &stderr)
		root.SetIn(strings.NewReader("\n"))
		root.SetArgs([]string{"hash-token"})
		if err := root.Execute(); err == nil {
			t.Fatal("expected error for empty token")
		}
	})
}

func TestLoadServeConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
addr = "0.0.0.0:9000"
device_name = "from-file"
log_level = "debug"

[battery]
source = "file"
path = "/tmp/battery"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var f serveFlags
	cmd := &cobra.Command{Use: "serve"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--config", path, "--device-name", "from-flag"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadServeConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadServeConfig() error: %v", err)
	}
	if cfg.DeviceName != "from-flag" {
		t.Errorf("DeviceName = %q, want from-flag", cfg.DeviceName)
	}
	if cfg.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q, want file value", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Channels.Event != config.DefaultEventChannel {
		t.Errorf("Channels.Event = %q, want default", cfg.Channels.Event)
	}
}

func TestServe_InvalidConfigExits(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	code, _, errOut := runWithArgs("serve", "--battery-source", "bogus")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "config.invalid") {
		t.Fatalf("expected config.invalid, got %q", errOut)
	}
}

func TestServe_MissingConfigFileExits(t *testing.T) {
	code, _, errOut := runWithArgs("serve", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "config file not found") {
		t.Fatalf("unexpected error %q", errOut)
	}
}

// writeBatteryStatus replaces the battery status file atomically.
func writeBatteryStatus(t *testing.T, path, status string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(status+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func startTestHost(t *testing.T) (*hostRuntime, string) {
	t.Helper()
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "battery")
	writeBatteryStatus(t, statusPath, "Discharging")

	cfg := &config.Config{
		Addr:       "127.0.0.1:0",
		DeviceName: "testbox",
		AuditStore: filepath.Join(dir, "audit.db"),
		Battery:    config.Battery{Source: "file", Path: statusPath, PollMs: 20},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	h, err := startHost(cfg)
	if err != nil {
		t.Fatalf("startHost() error: %v", err)
	}
	t.Cleanup(h.Stop)
	return h, statusPath
}

func TestHost_CallCommands(t *testing.T) {
	h, _ := startTestHost(t)
	addr := h.server.Addr()

	code, out, errOut := runWithArgs("call", "--addr", addr, config.DefaultGetStringChannel, channel.MethodGetString)
	if code != 0 {
		t.Fatalf("call getString exit %d: %s", code, errOut)
	}
	if want := `"This is string returned from testbox's Device"`; strings.TrimSpace(out) != want {
		t.Fatalf("getString output = %q, want %q", out, want)
	}

	code, out, errOut = runWithArgs("call", "--addr", addr, config.DefaultVoidChannel, channel.MethodVoid)
	if code != 0 {
		t.Fatalf("call void exit %d: %s", code, errOut)
	}
	if strings.TrimSpace(out) != "null" {
		t.Fatalf("void output = %q, want null", out)
	}

	code, _, errOut = runWithArgs("call", "--addr", addr, config.DefaultGetStringChannel, "bogus")
	if code != 1 || !strings.Contains(errOut, "not implemented") {
		t.Fatalf("bogus: exit %d, stderr %q", code, errOut)
	}

	code, _, errOut = runWithArgs("call", "--addr", addr, config.DefaultTimerChannel, "start")
	if code != 1 || !strings.Contains(errOut, "channel.not_found") {
		t.Fatalf("timer: exit %d, stderr %q", code, errOut)
	}
}

func TestHost_StatusCommand(t *testing.T) {
	h, _ := startTestHost(t)

	code, out, errOut := runWithArgs("status", "--addr", h.server.Addr())
	if code != 0 {
		t.Fatalf("status exit %d: %s", code, errOut)
	}
	for _, want := range []string{"Listening:    " + h.server.Addr(), "Auth:         false", "Battery:"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestHost_ListenFollowsBattery(t *testing.T) {
	h, statusPath := startTestHost(t)

	var (
		wg     sync.WaitGroup
		code   int
		out    string
		errOut string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		code, out, errOut = runWithArgs("listen", "--addr", h.server.Addr(), "--count", "2", "--no-reconnect")
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !h.bridge.Attached() {
		if time.Now().After(deadline) {
			t.Fatal("listener never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}
	writeBatteryStatus(t, statusPath, "Full")

	wg.Wait()
	if code != 0 {
		t.Fatalf("listen exit %d: %s", code, errOut)
	}
	if out != "discharging\ncharging\n" {
		t.Fatalf("listen output = %q", out)
	}

	// The cancel sent on exit detaches the bridge and stops monitoring.
	deadline = time.Now().Add(3 * time.Second)
	for h.bridge.Attached() || h.notifier.Enabled() {
		if time.Now().After(deadline) {
			t.Fatal("bridge still attached after listen exited")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHost_AuthRejectsMissingToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Addr:          "127.0.0.1:0",
		AuthTokenHash: string(hash),
		Battery:       config.Battery{Source: "file", Path: filepath.Join(t.TempDir(), "battery")},
	}
	cfg.ApplyDefaults()
	h, err := startHost(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	code, _, errOut := runWithArgs("call", "--addr", h.server.Addr(), config.DefaultVoidChannel, channel.MethodVoid)
	if code != 1 || !strings.Contains(errOut, "401") {
		t.Fatalf("without token: exit %d, stderr %q", code, errOut)
	}

	code, _, errOut = runWithArgs("call", "--addr", h.server.Addr(), "--token", "tok", config.DefaultVoidChannel, channel.MethodVoid)
	if code != 0 {
		t.Fatalf("with token: exit %d, stderr %q", code, errOut)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name    string
		env     envelope
		want    string
		isEvent bool
		wantErr bool
	}{
		{
			name:    "success event",
			env:     envelope{Type: server.MessageTypeEvent, Payload: []byte(`{"channel":"c","data":"charging"}`)},
			want:    "charging",
			isEvent: true,
		},
		{
			name:    "error event",
			env:     envelope{Type: server.MessageTypeEventError, Payload: []byte(`{"channel":"c","code":"UNAVAILABLE","message":"Charging status unavailable","details":null}`)},
			want:    "error UNAVAILABLE: Charging status unavailable",
			isEvent: true,
		},
		{
			name:    "protocol error",
			env:     envelope{Type: server.MessageTypeError, Payload: []byte(`{"code":"stream.not_found","message":"x"}`)},
			wantErr: true,
		},
		{
			name: "other message skipped",
			env:  envelope{Type: server.MessageTypeMethodResult, Payload: []byte(`{"id":"1","result":null}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isEvent, err := formatEvent(tt.env)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || isEvent != tt.isEvent {
				t.Fatalf("formatEvent() = (%q, %v), want (%q, %v)", got, isEvent, tt.want, tt.isEvent)
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{45, "45s"},
		{5*60 + 23, "5m 23s"},
		{2*3600 + 15*60, "2h 15m"},
		{3*86400 + 4*3600, "3d 4h"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.seconds); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestCertHosts(t *testing.T) {
	got := certHosts("192.168.1.7:7171")
	want := []string{"localhost", "127.0.0.1", "192.168.1.7"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("certHosts() = %v, want %v", got, want)
	}
	if got := certHosts("127.0.0.1:7171"); len(got) != 2 {
		t.Fatalf("loopback certHosts() = %v, want defaults only", got)
	}
}

func TestPrintQR(t *testing.T) {
	var buf bytes.Buffer
	printQR(&buf, "ws://192.168.1.7:7171/ws")
	if !strings.Contains(buf.String(), "SCAN TO CONNECT") || !strings.Contains(buf.String(), "ws://192.168.1.7:7171/ws") {
		t.Fatalf("unexpected QR output:\n%s", buf.String())
	}
}
