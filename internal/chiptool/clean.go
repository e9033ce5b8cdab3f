package chiptool

import (
	"regexp"
	"strings"
)

// chip-tool interleaves the interaction-model payload with connection and
// session logging. Only [DMG] (data management) lines carry report
// structure; the rest is noise. Sanitise reduces raw output to a single
// string of report text that the block parser can consume.

var (
	ansiEscape  = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	parenthetic = regexp.MustCompile(`\(.*?\)`)
	reportFrom  = regexp.MustCompile(`from\s+\d+:(\w{16})`)
	blockKey    = regexp.MustCompile(`(\w+)\s*=\s*$`)
)

// skippedLines are log lines that look like payload but carry no report
// structure and confuse block extraction.
var skippedLines = []string{
	"Received Command Response Status",
	"Received Command Response Data",
	"Subscription established with SubscriptionID",
}

// Sanitise strips logging noise from raw chip-tool output and returns the
// flattened report text.
//
// Report paths printed by chip-tool carry endpoint, cluster and attribute
// but not the node, which only appears in the surrounding IM:ReportData
// exchange header. Sanitise captures the node from the header and splices
// a NodeID field into each path block so parsed reports are self-describing.
func Sanitise(raw string) string {
	log := ansiEscape.ReplaceAllString(raw, "")
	log = strings.ReplaceAll(log, ",", "")

	var formatted []string
	nodeID := ""
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		columns := strings.Fields(line)
		if len(columns) < 4 {
			continue
		}

		if containsAny(line, skippedLines) {
			continue
		}

		// The exchange header names the peer node in hex
		if strings.Contains(line, "IM:ReportData") || strings.Contains(line, "IM:InvokeCommandResponse") {
			if m := reportFrom.FindStringSubmatch(line); m != nil {
				nodeID = "0x" + strings.TrimLeft(m[1], "0")
				if nodeID == "0x" {
					nodeID = "0x0"
				}
			}
		}

		if columns[2] != "[DMG]" {
			continue
		}
		if !strings.ContainsAny(line, "[]{}=()") {
			continue
		}

		if strings.Contains(line, "Endpoint =") || strings.Contains(line, "EndpointId =") {
			if nodeID != "" {
				formatted = append(formatted, "NodeID = "+nodeID)
			} else {
				formatted = append(formatted, "NodeID = UNKNOWN")
			}
		}
		formatted = append(formatted, strings.Join(columns[3:], " "))
	}

	out := strings.Join(formatted, " ")
	// Type annotations like "Data = true (bool)" add nothing to the value
	return parenthetic.ReplaceAllString(out, "")
}

// ExtractBlocks splits sanitised report text into top-level named blocks,
// each of the form "Key = { ... }" with balanced braces. Text between
// blocks is discarded.
func ExtractBlocks(text string) []string {
	var blocks []string
	depth := 0
	recording := false
	var current strings.Builder

	for i, ch := range text {
		switch ch {
		case '{':
			if depth == 0 {
				if m := blockKey.FindStringSubmatch(strings.TrimRight(text[:i], " ")); m != nil {
					keyStart := strings.LastIndex(text[:i], m[1])
					current.Reset()
					current.WriteString(text[keyStart:i])
					recording = true
				}
			}
			depth++
			if recording {
				current.WriteByte('{')
			}
		case '}':
			if depth > 0 {
				depth--
			}
			if recording {
				current.WriteByte('}')
				if depth == 0 {
					blocks = append(blocks, strings.TrimSpace(current.String()))
					current.Reset()
					recording = false
				}
			}
		default:
			if recording {
				current.WriteRune(ch)
			}
		}
	}
	return blocks
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
