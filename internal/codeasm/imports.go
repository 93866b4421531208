// SPDX-License-Identifier: MPL-2.0

package codeasm

import (
	"regexp"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// packageMapping maps a Python import/attribute namespace to the pip
// distribution name that provides it. Some namespaces (pd, np, plt) are
// conventional aliases rather than the real module name.
var packageMapping = map[string]string{
	"pd":         "pandas",
	"pandas":     "pandas",
	"np":         "numpy",
	"numpy":      "numpy",
	"plt":        "matplotlib",
	"matplotlib": "matplotlib",
	"sklearn":    "scikit-learn",
	"tensorflow": "tensorflow",
	"torch":      "torch",
	"cv2":        "opencv-python",
	"requests":   "requests",
	"bs4":        "beautifulsoup4",
	"seaborn":    "seaborn",
}

// DetectRequiredPackages returns the sorted, deduplicated set of pip
// distribution names the snippet appears to need. It combines two signals:
// a real parse of import/from-import statements, and a namespace-prefix
// regex scan that also catches attribute-style use of an aliased import
// (e.g. "pd.DataFrame") the parser's import list alone would miss.
func DetectRequiredPackages(code string) []string {
	found := make(map[string]struct{})

	for _, base := range parseImportedNames(code) {
		if pkg, ok := packageMapping[base]; ok {
			found[pkg] = struct{}{}
		}
	}
	for namespace, pkg := range packageMapping {
		if namespacePrefixPattern(namespace).MatchString(code) {
			found[pkg] = struct{}{}
		}
	}

	result := make([]string, 0, len(found))
	for pkg := range found {
		result = append(result, pkg)
	}
	return sortStrings(result)
}

var prefixPatternCache = make(map[string]*regexp.Regexp)

func namespacePrefixPattern(namespace string) *regexp.Regexp {
	if re, ok := prefixPatternCache[namespace]; ok {
		return re
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(namespace) + `\.`)
	prefixPatternCache[namespace] = re
	return re
}

// parseImportedNames walks the Python parse tree for code and returns every
// base module name referenced by an "import x" or "from x import ..."
// statement. A code snippet that fails to parse yields no names, matching
// the original broker's "return an empty set on SyntaxError" behavior.
func parseImportedNames(code string) []string {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	lang := tree_sitter.NewLanguage(tree_sitter_python.Language())
	if err := parser.SetLanguage(lang); err != nil {
		return nil
	}

	source := []byte(code)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil
	}
	defer tree.Close()

	var names []string
	var walk func(node *tree_sitter.Node, insideImport bool)
	walk = func(node *tree_sitter.Node, insideImport bool) {
		if node == nil {
			return
		}
		kind := node.Kind()
		switch kind {
		case "import_statement", "import_from_statement":
			insideImport = true
		case "dotted_name":
			if insideImport {
				text := node.Utf8Text(source)
				if base, _, ok := strings.Cut(text, "."); ok {
					names = append(names, base)
				} else {
					names = append(names, text)
				}
			}
		}
		count := node.NamedChildCount()
		for i := uint(0); i < count; i++ {
			walk(node.NamedChild(i), insideImport)
		}
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil
	}
	walk(&root, false)
	return names
}

// sortStrings is a tiny insertion sort to avoid pulling in "sort" for a
// handful of elements; deterministic ordering keeps preamble generation
// reproducible for tests.
func sortStrings(items []string) []string {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j-1] > items[j]; j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
	return items
}
