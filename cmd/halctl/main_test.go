package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const simBoard = `
backend: sim
gpio:  { lines: 8 }
usart: { baud: 115200 }
flash: { sectors: 4, sector_size: 1024, page_size: 256, program_unit: 4 }
`

func writeBoard(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeStreams(t, args...)
	return out, err
}

// executeStreams runs the root command and returns what it wrote to stdout
// and to stderr separately.
func executeStreams(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestSelftest(t *testing.T) {
	out, err := execute(t, "selftest")
	if err != nil {
		t.Fatalf("selftest: %v\n%s", err, out)
	}
	for _, name := range []string{"flash", "gpio", "i2c", "spi", "sai", "usart"} {
		if !strings.Contains(out, name+" ") {
			t.Errorf("no result for %s in:\n%s", name, out)
		}
	}
	if strings.Contains(out, "FAIL") {
		t.Errorf("failures reported:\n%s", out)
	}
}

func TestSelftestOnly(t *testing.T) {
	defer func() { selftestOpts.only = nil }()
	out, err := execute(t, "selftest", "--only", "spi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "\n") != 1 || !strings.HasPrefix(out, "spi") {
		t.Errorf("output = %q", out)
	}
	if _, err := execute(t, "selftest", "--only", "nope"); err == nil {
		t.Error("unknown check accepted")
	}
}

func TestFlashCommands(t *testing.T) {
	board := writeBoard(t, simBoard)
	out, err := execute(t, "--board", board, "flash", "info")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "size:         4096 bytes") {
		t.Errorf("flash info = %q", out)
	}
	out, err = execute(t, "--board", board, "flash", "selftest")
	if err != nil {
		t.Fatal(err)
	}
	if out != "flash: ok\n" {
		t.Errorf("flash selftest = %q", out)
	}
}

func TestUARTSendLoopback(t *testing.T) {
	defer func() { uartOpts.listen = 0 }()
	board := writeBoard(t, simBoard)
	out, err := execute(t, "--board", board, "uart", "send", "hello", "--listen", "2s")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "sent 5 bytes at 115200 baud") || !strings.Contains(out, `received 5 bytes: "hello"`) {
		t.Errorf("output = %q", out)
	}
}

func TestGPIOSet(t *testing.T) {
	board := writeBoard(t, simBoard)
	out, err := execute(t, "--board", board, "gpio", "set", "2", "1")
	if err != nil {
		t.Fatal(err)
	}
	if out != "pin 2: driven 1\n" {
		t.Errorf("output = %q", out)
	}
	if _, err := execute(t, "--board", board, "gpio", "set", "9", "1"); err == nil {
		t.Error("pin outside the bank accepted")
	}
	if _, err := execute(t, "--board", board, "gpio", "set", "2", "2"); err == nil {
		t.Error("level 2 accepted")
	}
}

func TestErrors(t *testing.T) {
	board := writeBoard(t, "backend: sim\n")
	if _, err := execute(t, "--board", board, "flash", "info"); err == nil {
		t.Error("flash info without a flash section succeeded")
	}
	if _, err := execute(t, "--board", filepath.Join(t.TempDir(), "missing.yaml"), "flash", "info"); err == nil {
		t.Error("missing board file accepted")
	}
	defer func() { rootOpts.logLevel = "warn" }()
	if _, err := execute(t, "--log-level", "loud", "selftest"); err == nil {
		t.Error("invalid log level accepted")
	}
}

func TestDriverLogsGoToStderr(t *testing.T) {
	defer func() {
		rootOpts.logLevel = "warn"
		selftestOpts.only = nil
	}()
	out, errOut, err := executeStreams(t, "--log-level", "debug", "selftest", "--only", "spi")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "component=") {
		t.Errorf("driver log on stdout: %q", out)
	}
	if !strings.Contains(errOut, "component=board") || !strings.Contains(errOut, "self test passed") {
		t.Errorf("stderr = %q", errOut)
	}
}
