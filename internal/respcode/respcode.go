// Package respcode maps DE39 response codes to outcomes and text.
package respcode

import (
	"sort"
	"strings"
)

const (
	Approved       = "00"
	UnknownMessage = "Unknown response code"
)

var defaultMessages = map[string]string{
	"00": "Approved",
	"05": "Do not honor",
	"12": "Invalid transaction",
	"13": "Invalid amount",
	"14": "Invalid card number",
	"30": "Format error",
	"51": "Insufficient funds",
	"54": "Expired card",
	"55": "Incorrect PIN",
	"57": "Transaction not permitted",
	"58": "Not permitted to terminal",
	"61": "Exceeds withdrawal limit",
	"91": "Issuer or switch inoperative",
	"96": "System malfunction",
}

// Table is an immutable response code table. Codes absent from it are
// treated as declines.
type Table struct {
	messages map[string]string
	approved map[string]bool
}

// Default returns the built-in table with only 00 approving.
func Default() *Table {
	return New(defaultMessages, Approved)
}

// New builds a table from code to message. approved lists the codes that
// count as approvals; with none given only 00 approves.
func New(messages map[string]string, approved ...string) *Table {
	t := &Table{
		messages: make(map[string]string, len(messages)),
		approved: make(map[string]bool),
	}
	for code, msg := range messages {
		t.messages[normalize(code)] = msg
	}
	if len(approved) == 0 {
		approved = []string{Approved}
	}
	for _, code := range approved {
		t.approved[normalize(code)] = true
	}
	return t
}

// Merge returns a copy of t with overrides applied on top.
func (t *Table) Merge(overrides map[string]string) *Table {
	messages := make(map[string]string, len(t.messages)+len(overrides))
	for k, v := range t.messages {
		messages[k] = v
	}
	for k, v := range overrides {
		messages[normalize(k)] = v
	}
	approved := make([]string, 0, len(t.approved))
	for k := range t.approved {
		approved = append(approved, k)
	}
	return New(messages, approved...)
}

func (t *Table) Message(code string) string {
	if msg, ok := t.messages[normalize(code)]; ok {
		return msg
	}
	return UnknownMessage
}

func (t *Table) Known(code string) bool {
	_, ok := t.messages[normalize(code)]
	return ok
}

func (t *Table) IsApproved(code string) bool {
	return t.approved[normalize(code)]
}

// Codes returns the known codes in ascending order.
func (t *Table) Codes() []string {
	codes := make([]string, 0, len(t.messages))
	for code := range t.messages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
