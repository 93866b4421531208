// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"codebroker/pkg/contracts"
)

func TestPrintResult_SummarySuccess(t *testing.T) {
	executeJSON = false
	var buf bytes.Buffer

	if err := printResult(&buf, &contracts.ExecuteResult{
		Stdout:        "hello\n",
		ExecutionTime: 1.5,
	}); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Errorf("printResult() output missing stdout: %q", out)
	}
	if strings.Contains(out, "stderr") {
		t.Errorf("printResult() output unexpectedly includes stderr section: %q", out)
	}
}

func TestPrintResult_SummaryFailure(t *testing.T) {
	executeJSON = false
	var buf bytes.Buffer
	errMsg := "boom"

	if err := printResult(&buf, &contracts.ExecuteResult{
		Stdout: "",
		Stderr: &errMsg,
	}); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("printResult() output missing stderr: %q", buf.String())
	}
}

func TestPrintResult_JSON(t *testing.T) {
	executeJSON = true
	defer func() { executeJSON = false }()
	var buf bytes.Buffer

	if err := printResult(&buf, &contracts.ExecuteResult{Stdout: "x"}); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"Stdout": "x"`) {
		t.Errorf("printResult() JSON output = %q", buf.String())
	}
}
