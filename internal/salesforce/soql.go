package salesforce

import (
	"regexp"
	"strings"
)

var soqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// Quote renders s as a SOQL string literal.
func Quote(s string) string {
	return "'" + soqlEscaper.Replace(s) + "'"
}

var fieldNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidFieldName reports whether name can be spliced into a SOQL statement as a field.
func ValidFieldName(name string) bool {
	return fieldNameRe.MatchString(name)
}
