package launch

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/launchreq"
)

func withRealize(t *testing.T, fn func(req *launchreq.LaunchRequest, env map[string]string, stderr io.Writer, debug *debuglog.Logger) error) {
	t.Helper()

	prev := realize
	realize = fn

	t.Cleanup(func() { realize = prev })
}

func TestRun_ArgumentErrorExitsOne(t *testing.T) {
	withRealize(t, func(*launchreq.LaunchRequest, map[string]string, io.Writer, *debuglog.Logger) error {
		t.Fatal("realize must not be called on an argument error")
		return nil
	})

	var stdout, stderr bytes.Buffer

	code := Run(&stdout, &stderr, []string{"remapper", "/tgt"}, map[string]string{"HOME": "/h"})
	if code != ExitUsageError {
		t.Fatalf("exit code = %d, want %d", code, ExitUsageError)
	}

	if stderr.Len() == 0 {
		t.Error("expected a usage diagnostic on stderr")
	}
}

func TestRun_RealizeFailureExits127(t *testing.T) {
	withRealize(t, func(*launchreq.LaunchRequest, map[string]string, io.Writer, *debuglog.Logger) error {
		return errors.New("boom")
	})

	var stdout, stderr bytes.Buffer

	code := Run(&stdout, &stderr, []string{"remapper", "/tgt", "/h/.a*", "cat", "/h/.a/x"}, map[string]string{"HOME": "/h"})
	if code != ExitPreExecFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitPreExecFailure)
	}
}

func TestRun_NilRealizeIsPreExecFailure(t *testing.T) {
	withRealize(t, nil)

	var stdout, stderr bytes.Buffer

	code := Run(&stdout, &stderr, []string{"remapper", "/tgt", "/h/.a*", "cat", "/h/.a/x"}, map[string]string{"HOME": "/h"})
	if code != ExitPreExecFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitPreExecFailure)
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := Run(&stdout, &stderr, []string{"remapper", "--help"}, map[string]string{})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	if stdout.Len() == 0 {
		t.Error("expected usage text on stdout")
	}
}

func TestRun_RealizeReceivesParsedRequest(t *testing.T) {
	var got *launchreq.LaunchRequest

	withRealize(t, func(req *launchreq.LaunchRequest, env map[string]string, stderr io.Writer, debug *debuglog.Logger) error {
		got = req
		return errors.New("stop here")
	})

	var stdout, stderr bytes.Buffer

	Run(&stdout, &stderr, []string{"remapper", "/tgt", "/h/.a*", "cat", "/h/.a/x"}, map[string]string{"HOME": "/h"})

	if got == nil {
		t.Fatal("realize was not called")
	}

	if got.Target != "/tgt/" {
		t.Errorf("Target = %q", got.Target)
	}
}
