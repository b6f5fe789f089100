package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/extinit/internal/integrity"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
)

// Resolution kinds, as the default loader would pick them.
const (
	KindInProcess    = "in-process"
	KindSharedObject = "shared-object"
	KindExecutable   = "executable"
)

// Checksum states.
const (
	ChecksumVerified   = "verified"
	ChecksumMismatch   = "mismatch"
	ChecksumUndeclared = "undeclared"
	ChecksumMissing    = "missing"
)

// Report is the structured JSON representation of an entry point report.
type Report struct {
	Group   string  `json:"group"`
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Entry is the provenance of one entry point, in run order.
type Entry struct {
	Position    int    `json:"position"`
	Value       string `json:"value"`
	Dist        string `json:"dist,omitempty"`
	DistVersion string `json:"dist_version,omitempty"`
	Kind        string `json:"kind"`
	Path        string `json:"path,omitempty"`
	Checksum    string `json:"checksum"`
}

// BuildReport gathers provenance for the entries src yields for (group, name).
// Nothing is loaded or called; files are only stat'ed and hashed.
func BuildReport(ctx context.Context, src any, group, name string) (*Report, error) {
	eps, err := entrypoint.Collect(ctx, src, group, name)
	if err != nil {
		return nil, err
	}
	report := &Report{Group: group, Name: name, Entries: make([]Entry, 0, len(eps))}
	for i, ep := range eps {
		report.Entries = append(report.Entries, describe(i+1, ep))
	}
	return report, nil
}

func describe(pos int, ep entrypoint.EntryPoint) Entry {
	e := Entry{Position: pos, Value: ep.Value, Kind: KindInProcess, Checksum: ChecksumUndeclared}
	if ep.Dist == nil {
		return e
	}
	e.Dist = ep.Dist.Name
	e.DistVersion = ep.Dist.Version

	module := ep.Module()
	path := module
	if !filepath.IsAbs(path) && ep.Dist.Dir != "" {
		path = filepath.Join(ep.Dist.Dir, filepath.FromSlash(module))
	}

	_, statErr := os.Stat(path)
	switch {
	case strings.HasSuffix(module, ".so"):
		e.Kind = KindSharedObject
		e.Path = path
	case statErr == nil:
		e.Kind = KindExecutable
		e.Path = path
	default:
		return e
	}

	declared, ok := ep.Dist.Checksums[module]
	switch {
	case !ok:
	case statErr != nil:
		e.Checksum = ChecksumMissing
	default:
		err := integrity.VerifyFileHash(path, declared)
		var mismatch *integrity.MismatchError
		if errors.As(err, &mismatch) {
			e.Checksum = ChecksumMismatch
		} else if err != nil {
			e.Checksum = ChecksumMissing
		} else {
			e.Checksum = ChecksumVerified
		}
	}
	return e
}

// FormatJSON returns the report as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// RenderReport renders a report as a table.
func RenderReport(r *Report, theme Theme) string {
	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", theme.Title.Render(fmt.Sprintf("Entry points for (%s, %s)", r.Group, r.Name)))
	if len(r.Entries) == 0 {
		fmt.Fprintf(&out, "%s\n", theme.Dim.Render("  none registered"))
		return out.String()
	}

	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		dist := renderUnset(e.Dist, "<process>")
		if e.DistVersion != "" {
			dist += " " + e.DistVersion
		}
		rows = append(rows, []string{strconv.Itoa(e.Position), e.Value, dist, e.Kind, e.Checksum})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(theme.Border).
		Headers("#", "VALUE", "DISTRIBUTION", "KIND", "CHECKSUM").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			if col == 4 {
				switch rows[row][col] {
				case ChecksumVerified:
					return cell.Inherit(theme.OK)
				case ChecksumMismatch, ChecksumMissing:
					return cell.Inherit(theme.Failed)
				}
			}
			return cell
		})
	fmt.Fprintf(&out, "%s\n", t.String())
	return out.String()
}

// RenderResult renders the outcome of an InitAll run.
func RenderResult(res *extinit.Result, theme Theme) string {
	var out strings.Builder
	if res.Skipped {
		fmt.Fprintf(&out, "%s\n", theme.Dim.Render("Extensions already initialized; nothing to do."))
		return out.String()
	}

	summary := fmt.Sprintf("Initialized %d/%d extension(s) in %s", len(res.Loaded), res.Attempted, res.Duration.Round(time.Millisecond))
	if res.RunID != "" {
		summary += " (run " + res.RunID + ")"
	}
	fmt.Fprintf(&out, "%s\n", theme.Title.Render(summary))
	if res.Attempted == 0 {
		return out.String()
	}

	rows := make([][]string, 0, res.Attempted)
	for _, v := range res.Loaded {
		rows = append(rows, []string{v, "ok", ""})
	}
	for _, w := range res.Failed {
		rows = append(rows, []string{w.Value, "failed", fmt.Sprintf("%s(%s)", w.Kind, w.Message)})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(theme.Border).
		Headers("EXTENSION", "STATUS", "ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			if col == 1 {
				if rows[row][col] == "ok" {
					return cell.Inherit(theme.OK)
				}
				return cell.Inherit(theme.Failed)
			}
			return cell
		})
	fmt.Fprintf(&out, "%s\n", t.String())
	return out.String()
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
