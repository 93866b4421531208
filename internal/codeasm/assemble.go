// SPDX-License-Identifier: MPL-2.0

package codeasm

import (
	"fmt"
	"regexp"
	"strings"
)

// codeFence strips a single leading/trailing Markdown code fence (with an
// optional language tag) that a submitter pasted around their snippet.
var codeFence = regexp.MustCompile(`(?s)^\s*` + "```" + `[a-zA-Z0-9]*\n(.*?)\n?` + "```" + `\s*$`)

// plotShowCall matches a bare "plt.show()" call (with optional arguments),
// which hangs or no-ops in a headless guest and is always safe to drop
// since the epilogue already saves the figure.
var plotShowCall = regexp.MustCompile(`(?m)^\s*plt\.show\([^)]*\)\s*$`)

// usesMatplotlib reports whether code looks like it touches matplotlib,
// gating both the font setup block and the save-on-exit epilogue.
func usesMatplotlib(code string) bool {
	return strings.Contains(code, "plt") || strings.Contains(code, "matplotlib")
}

// Normalize strips an enclosing Markdown fence, if any, and drops
// plt.show() calls that would otherwise block or no-op in the guest.
func Normalize(code string) string {
	if m := codeFence.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	return plotShowCall.ReplaceAllString(code, "")
}

// Assemble wraps code with an install-if-missing preamble for the detected
// packages and, when the snippet touches matplotlib, a font-setup block and
// a save-and-close epilogue. The result is the complete guest script.
func Assemble(code string, packages []string) string {
	code = Normalize(code)

	var b strings.Builder
	b.WriteString(installPreamble(packages))
	if usesMatplotlib(code) {
		b.WriteString(matplotlibSetup)
	}
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}
	if usesMatplotlib(code) {
		b.WriteString(matplotlibEpilogue)
	}
	return b.String()
}

// installPreamble renders a block that installs each missing package with
// --user before the guest script runs, checked via importlib.metadata so
// packages already baked into the image are never reinstalled.
func installPreamble(packages []string) string {
	if len(packages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("import importlib.metadata\n")
	b.WriteString("import subprocess\n")
	b.WriteString("import sys\n\n")
	b.WriteString("def _ensure_installed(dist_name):\n")
	b.WriteString("    try:\n")
	b.WriteString("        importlib.metadata.version(dist_name)\n")
	b.WriteString("    except importlib.metadata.PackageNotFoundError:\n")
	b.WriteString("        subprocess.run(\n")
	b.WriteString("            [sys.executable, \"-m\", \"pip\", \"install\", \"--user\", \"--no-input\", dist_name],\n")
	b.WriteString("            check=True,\n")
	b.WriteString("        )\n\n")
	for _, pkg := range packages {
		fmt.Fprintf(&b, "_ensure_installed(%q)\n", pkg)
	}
	b.WriteString("\n")
	return b.String()
}

const matplotlibSetup = `import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt
matplotlib.rcParams["font.sans-serif"] = ["Noto Sans CJK SC", "SimHei", "DejaVu Sans"]
matplotlib.rcParams["axes.unicode_minus"] = False

`

const matplotlibEpilogue = `
if "plt" in globals() and plt.get_fignums():
    plt.savefig("/code/output/result.png", dpi=300, bbox_inches="tight")
    plt.close("all")
`
