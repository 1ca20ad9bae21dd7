// Package ledgercli implements the ledgerctl command groups. ledgerctl is
// the only supported interface for agents to read and update the JSON
// ledgers; the output markers (SUCCESS, WARNING, ERROR, NO_MORE_FEATURES)
// are part of the prompt contract and must stay stable.
package ledgercli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"agentloop/pkg/ledger"
)

// printJSON writes indented JSON the way the ledger files themselves are
// formatted.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// splitList parses a comma-separated argument into trimmed, non-empty
// entries.
func splitList(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// jsonArg interprets a flag value that is either inline JSON or a path to
// a JSON file, for payloads too large to pass on the command line.
func jsonArg(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "[") && !strings.HasPrefix(text, "{") {
		data, err := os.ReadFile(text)
		if err != nil {
			return err
		}
		text = string(data)
	}
	return json.Unmarshal([]byte(text), v)
}

// requireLedger enforces the script contract that reads fail loudly when
// the ledger file is missing.
func requireLedger(path string) error {
	if !ledger.Exists(path) {
		return fmt.Errorf("ERROR: %s does not exist", path)
	}
	return nil
}

// checkChoice validates an enum-style flag value against its closed set.
func checkChoice(name, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (choose from %s)", name, value, strings.Join(allowed, ", "))
}

// recordMap round-trips a record through JSON so field projection sees
// exactly what a consumer reading the file would see.
func recordMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// renderValue formats a projected JSON value: empty for null, indented
// JSON for containers, bare text for scalars.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	}
}
