package hou

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxOutputSize caps captured stdout/stderr per stream.
const DefaultMaxOutputSize = 100 * 1024

// ErrEmptyCode is returned when there is nothing to execute.
var ErrEmptyCode = errors.New("hou: empty code")

// DangerousCodeError reports patterns that block execution unless the
// caller explicitly allows them.
type DangerousCodeError struct {
	Patterns []string
}

func (e *DangerousCodeError) Error() string {
	return fmt.Sprintf("hou: dangerous operations detected: %s", strings.Join(e.Patterns, "; "))
}

// dangerousPatterns flags script constructs that can destroy work or
// escape the session: closing the application, deleting files, shelling
// out, writing files, wiping the scene.
var dangerousPatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`\bhou\.exit\s*\(`), "hou.exit() - will close Houdini"},
	{regexp.MustCompile(`\bos\.remove\s*\(`), "os.remove() - file deletion"},
	{regexp.MustCompile(`\bos\.unlink\s*\(`), "os.unlink() - file deletion"},
	{regexp.MustCompile(`\bshutil\.rmtree\s*\(`), "shutil.rmtree() - directory deletion"},
	{regexp.MustCompile(`\bsubprocess\b`), "subprocess - shell execution"},
	{regexp.MustCompile(`\bos\.system\s*\(`), "os.system() - shell execution"},
	{regexp.MustCompile(`\bopen\s*\([^)]*["'][wa]`), "open() with write mode - file writing"},
	{regexp.MustCompile(`\bhou\.hipFile\.clear\s*\(`), "hou.hipFile.clear() - scene wipe"},
}

// DetectDangerous scans a script for patterns that should not run
// unreviewed. The scan is advisory, not a sandbox.
func DetectDangerous(code string) []string {
	var detected []string
	for _, p := range dangerousPatterns {
		if p.re.MatchString(code) {
			detected = append(detected, p.desc)
		}
	}
	return detected
}

type executeCodeArgs struct {
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type executeCodeResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ExecuteCode runs a script snippet in the remote process. Scripts
// matching a dangerous pattern are rejected before touching the wire
// unless AllowDangerous is set, in which case the detections come back
// as warnings. Output is truncated to MaxOutputSize per stream.
func (c *Client) ExecuteCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyCode
	}

	detected := DetectDangerous(req.Code)
	if len(detected) > 0 && !req.AllowDangerous {
		return nil, &DangerousCodeError{Patterns: detected}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxSize := req.MaxOutputSize
	if maxSize <= 0 {
		maxSize = DefaultMaxOutputSize
	}

	args := executeCodeArgs{
		Code:           req.Code,
		TimeoutSeconds: int(timeout / time.Second),
	}
	var raw executeCodeResult
	if err := c.invoke(ctx, "code.execute", args, &raw, timeout); err != nil {
		return nil, err
	}

	result := &CodeResult{Warnings: detected}
	result.Stdout, result.StdoutTruncated = truncate(raw.Stdout, maxSize)
	result.Stderr, result.StderrTruncated = truncate(raw.Stderr, maxSize)
	return result, nil
}

func truncate(s string, max int) (string, bool) {
	if len(s) > max {
		return s[:max], true
	}
	return s, false
}
