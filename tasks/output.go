package tasks

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"gopkg.in/yaml.v3"
)

// Format selects how task results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q, expected table, json or yaml", s)
	}
}

// Table is implemented by results that render as rows in table output.
type Table interface {
	Header() []string
	Rows() [][]string
}

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Printer writes task results in one format.
type Printer struct {
	w      io.Writer
	format Format
}

func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

// Print writes result. In table format a green status line with msg
// precedes the rows.
func (p *Printer) Print(msg string, result any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(p.w, "%s %s\n", okFmt("✔"), msg)
	t, ok := result.(Table)
	if !ok {
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	if header := t.Header(); len(header) > 0 {
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Fail writes err as a red status line, or as an error object in json and yaml.
func (p *Printer) Fail(err error) {
	switch p.format {
	case FormatJSON, FormatYAML:
		_ = p.Print("", map[string]string{"error": err.Error()})
	default:
		fmt.Fprintf(p.w, "%s %s\n", failFmt("✘"), err)
	}
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func timestamp(v uint64) string {
	return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
}

func (r *AddressResult) Header() []string { return nil }
func (r *AddressResult) Rows() [][]string {
	return [][]string{
		{"Registry", r.Registry.Hex()},
		{"Chain ID", u64(r.ChainID)},
		{"Caller", r.Caller.Hex()},
	}
}

func (r *CreateResult) Header() []string { return nil }
func (r *CreateResult) Rows() [][]string {
	return [][]string{
		{"Database ID", u64(r.DatabaseID)},
		{"Name", r.Name},
		{"Address", r.Address.Hex()},
		{"Address handle", r.AddressHandle.String()},
	}
}

func (r *DecryptAddressResult) Header() []string { return nil }
func (r *DecryptAddressResult) Rows() [][]string {
	return [][]string{
		{"Database ID", u64(r.DatabaseID)},
		{"Address", r.Address.Hex()},
	}
}

func (r *AddValueResult) Header() []string { return nil }
func (r *AddValueResult) Rows() [][]string {
	return [][]string{
		{"Database ID", u64(r.DatabaseID)},
		{"Entry index", u64(r.EntryIndex)},
		{"Value", strconv.FormatUint(uint64(r.Value), 10)},
		{"Handle", r.Handle.String()},
		{"Value count", u64(r.ValueCount)},
	}
}

func (r *DecryptValueResult) Header() []string { return nil }
func (r *DecryptValueResult) Rows() [][]string {
	return [][]string{
		{"Database ID", u64(r.DatabaseID)},
		{"Entry index", u64(r.EntryIndex)},
		{"Value", strconv.FormatUint(uint64(r.Value), 10)},
	}
}

func (r *ShareResult) Header() []string { return nil }
func (r *ShareResult) Rows() [][]string {
	rows := [][]string{{"Database ID", u64(r.DatabaseID)}}
	if r.EntryIndex != nil {
		rows = append(rows, []string{"Entry index", u64(*r.EntryIndex)})
	} else {
		rows = append(rows, []string{"Shared", "encrypted address"})
	}
	return append(rows, []string{"Target", r.Target.Hex()})
}

func (r *ListResult) Header() []string {
	return []string{"ID", "NAME", "VALUES", "CREATED", "UPDATED"}
}
func (r *ListResult) Rows() [][]string {
	rows := make([][]string, 0, len(r.Databases))
	for _, db := range r.Databases {
		rows = append(rows, []string{u64(db.ID), db.Name, u64(db.ValueCount), timestamp(db.CreatedAt), timestamp(db.UpdatedAt)})
	}
	return rows
}

func (r *InfoResult) Header() []string {
	return []string{"INDEX", "HANDLE", "SUBMITTER", "TIMESTAMP"}
}
func (r *InfoResult) Rows() [][]string {
	rows := [][]string{
		{"#" + u64(r.ID), r.Name, r.Owner.Hex(), timestamp(r.CreatedAt)},
		{"address", r.AddressHandle.String(), "", ""},
	}
	for _, e := range r.Entries {
		rows = append(rows, []string{u64(e.Index), e.Handle.String(), e.Submitter.Hex(), timestamp(e.Timestamp)})
	}
	return rows
}

func (r *KeygenResult) Header() []string { return nil }
func (r *KeygenResult) Rows() [][]string {
	rows := [][]string{{"Address", r.Address.Hex()}}
	if r.PrivateKey != "" {
		rows = append(rows, []string{"Private key", r.PrivateKey})
	}
	if r.Keystore != "" {
		rows = append(rows, []string{"Keystore", r.Keystore})
	}
	return rows
}

// EventList prints registry events as a table.
type EventList []interfaces.Event

func (l EventList) Header() []string {
	return []string{"SEQ", "BLOCK", "KIND", "DATABASE", "ENTRY", "ACCOUNT", "TIMESTAMP"}
}
func (l EventList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, ev := range l {
		entry := "-"
		if ev.Kind == interfaces.EventDatabaseEntryStored || ev.Kind == interfaces.EventDatabaseEntryShared {
			entry = u64(ev.EntryIndex)
		}
		rows = append(rows, []string{u64(ev.Seq), u64(ev.BlockNumber), string(ev.Kind), u64(ev.DatabaseID), entry, ev.Account.Hex(), timestamp(ev.Timestamp)})
	}
	return rows
}
