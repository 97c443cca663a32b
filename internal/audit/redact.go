package audit

import "regexp"

var (
	reKeyValue  = regexp.MustCompile(`(?i)\b(KEY|TOKEN|SECRET|PASSWORD)=([^\s&]+)`)
	reBearer    = regexp.MustCompile(`(?i)\bBearer\s+([A-Za-z0-9._\-]+)`)
	reAPIPrefix = regexp.MustCompile(`\b(ghp|gho|ghu|ghs|ghr|sk)[-_][A-Za-z0-9]{10,}`)
	reDBConn    = regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb(\+srv)?)://[^\s"']+`)
	rePEMBlock  = regexp.MustCompile(`(?s)-----BEGIN [^-]+-----.*?-----END [^-]+-----`)
)

const dbConnSentinel = "***REDACTED_CONNECTION_STRING***"
const pemSentinel = "***REDACTED_PEM_BLOCK***"

// RedactString applies the audit log's redaction patterns to a single
// string. Redaction is idempotent: RedactString(RedactString(s)) ==
// RedactString(s) for all s, since every replacement text either matches
// none of the patterns or, as with KEY=***REDACTED***, is rewritten to
// itself.
func RedactString(s string) string {
	s = reKeyValue.ReplaceAllStringFunc(s, func(m string) string {
		loc := reKeyValue.FindStringSubmatch(m)
		if len(loc) < 2 {
			return m
		}
		return loc[1] + "=***REDACTED***"
	})
	s = reBearer.ReplaceAllString(s, "Bearer ***REDACTED***")
	s = reAPIPrefix.ReplaceAllStringFunc(s, func(m string) string {
		sub := reAPIPrefix.FindStringSubmatch(m)
		if len(sub) < 2 {
			return m
		}
		return sub[1] + "_***REDACTED***"
	})
	s = reDBConn.ReplaceAllString(s, dbConnSentinel)
	s = rePEMBlock.ReplaceAllString(s, pemSentinel)
	return s
}

// RedactValue recursively redacts strings nested in maps, slices, and
// top-level scalars. It operates on the generic values produced by
// encoding/json.Unmarshal (map[string]interface{}, []interface{}, string,
// float64, bool, nil) and is safe to call on an already-redacted value.
func RedactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return RedactString(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = RedactValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = RedactValue(val)
		}
		return out
	default:
		return v
	}
}
