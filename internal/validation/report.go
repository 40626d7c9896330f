package validation

import (
	"fmt"
	"strings"
)

func passFail(ok bool) string {
	if ok {
		return "PASSED"
	}
	return "FAILED"
}

// FormatReport renders a report for the operator.
func FormatReport(r *Report) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("VALIDATION REPORT\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "\nOVERALL STATUS: %s\n", passFail(r.Success))

	b.WriteString("\nCOMPILATION:\n")
	fmt.Fprintf(&b, "  Status: %s\n", passFail(r.Compile.Success()))
	fmt.Fprintf(&b, "  Files Checked: %d\n", r.FilesChecked)
	if n := len(r.Compile.Issues); n > 0 {
		fmt.Fprintf(&b, "  Errors: %d\n", n)
		for _, issue := range r.Compile.Issues {
			fmt.Fprintf(&b, "    - %s: %s\n", issue.Path, issue.Message)
		}
	}

	b.WriteString("\nDEPENDENCIES:\n")
	if len(r.Warnings) == 0 {
		b.WriteString("  Status: OK\n")
	} else {
		b.WriteString("  Status: WARNINGS\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "    - %s\n", w)
		}
	}

	b.WriteString("\nFILE VALIDATION:\n")
	fmt.Fprintf(&b, "  Status: %s\n", passFail(len(r.MissingFiles) == 0))
	for _, p := range r.MissingFiles {
		fmt.Fprintf(&b, "    - Critical file missing: %s\n", p)
	}

	fmt.Fprintf(&b, "\nTOTAL ERRORS: %d\n", len(r.Errors))
	fmt.Fprintf(&b, "TOTAL WARNINGS: %d\n", len(r.Warnings))
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}
