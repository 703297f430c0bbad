package chat

import (
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	with string
}

// Applied in order. Emails go first so their digits are not read as phone numbers.
var piiPatterns = []replacement{
	{regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`\(\d{3}\)\s*\d{3}-\d{4}`), "[PHONE]"},
	{regexp.MustCompile(`\b1?[-.]?\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z\s]+(Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Court|Ct|Way|Place|Pl)\b`), "[ADDRESS]"},
	{regexp.MustCompile(`"[A-Z][a-z]+ [A-Z][a-z]+"`), "[NAME]"},
	{regexp.MustCompile(`\b\d{5}(-\d{4})?\b`), "[ZIP]"},
}

// Anonymize strips emails, phone numbers, SSNs, street addresses, quoted
// names and ZIP codes from a query before it is stored for analytics.
func Anonymize(query string) string {
	for _, p := range piiPatterns {
		query = p.re.ReplaceAllString(query, p.with)
	}
	return query
}

type category struct {
	name string
	re   *regexp.Regexp
}

// First match wins.
var categories = []category{
	{"job_search", regexp.MustCompile(`job|employment|hiring|position|opening|vacancy|work|career opportunity|apply|application`)},
	{"career_guidance", regexp.MustCompile(`resume|cv|cover letter|interview|career|professional development|skills|qualification|networking|linkedin`)},
	{"training", regexp.MustCompile(`training|certification|certify|course|class|workshop|program|learn|skill development|wioa|apprenticeship`)},
	{"youth_program", regexp.MustCompile(`youth|teen|teenager|young adult|student|high school|summer job|internship|work experience`)},
	{"employer_services", regexp.MustCompile(`employer|hire|recruit|hiring|tax credit|workforce|business|company|applicant|candidate`)},
	{"unemployment", regexp.MustCompile(`unemployment|benefits|claim|jobless|laid off|termination|assistance|support`)},
}

// CategoryGeneral is assigned when no keyword rule matches.
const CategoryGeneral = "general"

// Categorize assigns a query to a topic bucket by keyword rules.
func Categorize(query string) string {
	q := strings.ToLower(query)
	for _, c := range categories {
		if c.re.MatchString(q) {
			return c.name
		}
	}
	return CategoryGeneral
}
