package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/intelligence/incident"
	"github.com/turtacn/EpiExtract/internal/intelligence/preannotated"
	"github.com/turtacn/EpiExtract/pkg/client"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// SourceCLI labels extractions run from the command line.
const SourceCLI = "cli"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type annotateOptions struct {
	format  string
	store   string
	strict  bool
	debug   bool
	compat  bool
	resolve bool
	server  string
}

// NewAnnotateCmd extracts infections and incidents from one document read
// from a file or stdin.
func NewAnnotateCmd() *cobra.Command {
	opts := &annotateOptions{}
	cmd := &cobra.Command{
		Use:   "annotate [file]",
		Short: "Extract infections and incidents from an annotated document",
		Long: "Reads one pre-annotated document (JSON or YAML) from file, or from stdin\n" +
			"when file is omitted or \"-\", and prints the extraction result.",
		Example: "  epiextract annotate report.json -o table\n  cat report.yaml | epiextract annotate --format yaml --resolve",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runAnnotate(cmd, path, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "input format (json, yaml); detected when empty")
	f.StringVar(&opts.store, "store", "", "also save the result (sqlite, postgres); default none")
	f.BoolVar(&opts.strict, "strict", false, "disable the lax count fallback")
	f.BoolVar(&opts.debug, "debug", false, "record span provenance notes")
	f.BoolVar(&opts.compat, "compat", false, "report the infection attribute as case")
	f.BoolVar(&opts.resolve, "resolve", false, "print incidents in resolution format")
	f.StringVar(&opts.server, "server", "", "extract on a remote API server (e.g. http://localhost:8080) instead of in process")
	return cmd
}

func runAnnotate(cmd *cobra.Command, path string, opts *annotateOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	doc, err := readDocument(cmd.InOrStdin(), path, opts.format)
	if err != nil {
		return err
	}

	if opts.server != "" {
		return runRemoteAnnotate(cmd, cliCtx, doc, opts)
	}

	cfg := *cliCtx.Config
	cfg.Extraction.StrictOnly = cfg.Extraction.StrictOnly || opts.strict
	cfg.Extraction.Debug = cfg.Extraction.Debug || opts.debug
	cfg.Extraction.CompatibilityMode = cfg.Extraction.CompatibilityMode || opts.compat
	cfg.Extraction.Store = config.StoreNone
	if opts.store != "" && !opts.resolve {
		cfg.Extraction.Store = opts.store
		if err := cfg.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidation, "invalid --store")
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
	defer cancel()

	infra, err := openInfrastructure(ctx, &cfg, components{}, cliCtx.Logger, nil)
	if err != nil {
		return err
	}
	defer infra.Close()

	svc := infra.newService()
	ctx = extraction.ContextWithSource(ctx, SourceCLI)
	if opts.resolve {
		incidents, err := svc.Resolve(ctx, doc)
		if err != nil {
			return err
		}
		return PrintResult(cmd, resolutionView(incidents))
	}
	result, err := svc.Extract(ctx, doc)
	if err != nil {
		return err
	}
	return PrintResult(cmd, (*resultView)(result))
}

// runRemoteAnnotate sends doc to an API server. EPIEXTRACT_API_KEY, when
// set, is sent as a bearer token.
func runRemoteAnnotate(cmd *cobra.Command, cliCtx *CLIContext, doc *epi.AnnotatedDocument, opts *annotateOptions) error {
	c, err := client.NewClient(opts.server, os.Getenv("EPIEXTRACT_API_KEY"),
		client.WithTimeout(cliCtx.Timeout),
		client.WithUserAgent("epiextract-cli/"+Version),
	)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
	defer cancel()

	if opts.resolve {
		incidents, err := c.Resolve(ctx, doc)
		if err != nil {
			return err
		}
		return PrintResult(cmd, incidents)
	}
	result, err := c.Extract(ctx, doc)
	if err != nil {
		return err
	}
	return PrintResult(cmd, (*resultView)(result))
}

// readDocument decodes the document at path, "-" meaning r.
func readDocument(r io.Reader, path, format string) (*epi.AnnotatedDocument, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read document").WithDetail(path)
	}

	f := preannotated.FormatForPath(path, data)
	if format != "" {
		if f, err = preannotated.ParseFormat(format); err != nil {
			return nil, err
		}
	}
	return preannotated.Decode(data, f)
}

// resultView renders an extraction result as tables. It encodes to JSON
// and YAML exactly like epi.ExtractionResult.
type resultView epi.ExtractionResult

func (v *resultView) RenderTable(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Document "+v.DocumentID) + "\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%d infection(s), %d incident(s), %d ms",
		len(v.Infections), len(v.Incidents), v.DurationMS)) + "\n\n")

	if len(v.Infections) > 0 {
		rows := make([][]string, 0, len(v.Infections))
		for _, inf := range v.Infections {
			rows = append(rows, []string{
				spanCol(inf.Start, inf.End),
				inf.Text,
				countCol(inf.Count),
				strings.Join(inf.Attributes, ", "),
			})
		}
		sb.WriteString(renderTable([]string{"Span", "Text", "Count", "Attributes"}, rows) + "\n")
	}
	if len(v.Incidents) > 0 {
		rows := make([][]string, 0, len(v.Incidents))
		for _, inc := range v.Incidents {
			rows = append(rows, []string{
				spanCol(inc.Start, inc.End),
				inc.Type,
				strconv.FormatFloat(inc.Value, 'f', -1, 64),
				dateRangeCol(inc.DateRange),
				locationCol(inc.Location),
				speciesCol(inc.Species),
			})
		}
		sb.WriteString(renderTable([]string{"Span", "Type", "Value", "Dates", "Location", "Species"}, rows) + "\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// resolutionView renders resolution-format incidents.
type resolutionView []incident.ResolutionIncident

func (v resolutionView) RenderTable(w io.Writer) error {
	rows := make([][]string, 0, len(v))
	for _, inc := range v {
		kind, value := "cases", inc.Cases
		if inc.Deaths != nil {
			kind, value = "deaths", inc.Deaths
		}
		names := make([]string, 0, len(inc.Locations))
		for _, loc := range inc.Locations {
			if name, ok := loc["name"].(string); ok {
				names = append(names, name)
			}
		}
		species := ""
		if inc.Species != nil {
			species = inc.Species.Label
		}
		rows = append(rows, []string{
			kind,
			countCol(value),
			shortDate(inc.DateRange.Start) + " .. " + shortDate(inc.DateRange.End),
			strconv.FormatBool(inc.DateRange.Cumulative),
			strings.Join(names, ", "),
			species,
		})
	}
	_, err := io.WriteString(w, renderTable([]string{"Kind", "Value", "Dates", "Cumulative", "Locations", "Species"}, rows)+"\n")
	return err
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func spanCol(start, end int) string {
	return strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// shortDate keeps the calendar date of a resolution timestamp.
func shortDate(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func countCol(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func dateRangeCol(dr *epi.DateRange) string {
	if dr == nil {
		return "-"
	}
	return dr.Start.Format("2006-01-02") + " .. " + dr.End.Format("2006-01-02")
}

func locationCol(loc map[string]interface{}) string {
	if name, ok := loc["name"].(string); ok {
		return name
	}
	return "-"
}

func speciesCol(s *epi.EntityRef) string {
	if s == nil {
		return "-"
	}
	return s.Label
}
