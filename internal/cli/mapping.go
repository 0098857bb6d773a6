package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/membersync/internal/mapping"
	"github.com/roach88/membersync/internal/transform"
)

// MappingResult is the JSON payload of the mapping commands.
type MappingResult struct {
	Source string         `json:"source"`
	Valid  bool           `json:"valid"`
	Fields []MappingField `json:"fields,omitempty"`
	Enums  []MappingEnum  `json:"enums,omitempty"`
}

// MappingField is one row of the field table.
type MappingField struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Direction    string   `json:"direction"`
	RegistryPath string   `json:"registry_path,omitempty"`
	Parts        []string `json:"parts,omitempty"`
	PortalPath   string   `json:"portal_path"`
	Enum         string   `json:"enum,omitempty"`
}

// MappingEnum is one enum table.
type MappingEnum struct {
	Name   string           `json:"name"`
	Values map[int64]string `json:"values"`
}

// MappingErrorDetail locates a mapping error.
type MappingErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewMappingCommand creates the mapping command group.
func NewMappingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect and validate the field mapping table",
	}
	cmd.AddCommand(newMappingValidateCommand(rootOpts))
	cmd.AddCommand(newMappingShowCommand(rootOpts))
	return cmd
}

func newMappingValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file.cue]",
		Short: "Validate a mapping table",
		Long: `Load a CUE mapping table, unify it with the table schema and check
that every enum is a bijection, every registry column and portal path is
owned by one field, and every composite names a known composer.

Without an argument the table configured in membersync.yaml is checked,
or the built-in default when none is configured.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			tr, source, err := loadMappingFor(opts, args)
			if err != nil {
				return mappingFailure(out, source, err)
			}
			result := MappingResult{Source: source, Valid: true}
			return out.Success(result, func(w io.Writer) {
				t := tr.Table()
				fmt.Fprintf(w, "✓ %s valid (%d fields, %d enums)\n", source, len(t.Fields()), len(t.Enums()))
			})
		},
	}
}

func newMappingShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show [file.cue]",
		Short:         "Print the resolved mapping table",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			tr, source, err := loadMappingFor(opts, args)
			if err != nil {
				return mappingFailure(out, source, err)
			}
			result := describeTable(source, tr.Table())
			return out.Success(result, func(w io.Writer) { printTable(w, result) })
		},
	}
}

// loadMappingFor resolves which table to load: the argument, then the
// configured mapping, then the built-in default.
func loadMappingFor(opts *RootOptions, args []string) (*transform.Transformer, string, error) {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else if opts.Config != "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, opts.Config, err
		}
		path = cfg.Mapping
	}
	source := path
	if source == "" {
		source = "built-in default"
	}
	tr, err := loadTransformer(path)
	return tr, source, err
}

func mappingFailure(out *OutputFormatter, source string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return out.Fail(exitErr.Code, CodeConfig, exitErr.Message, exitErr.Err)
	}

	detail := MappingErrorDetail{Message: err.Error()}
	var merr *mapping.MappingError
	if errors.As(err, &merr) {
		detail.Field = merr.Field
		detail.Message = merr.Message
		if merr.Pos.IsValid() {
			detail.Line = merr.Pos.Line()
		}
	}
	var verr *transform.ValidationError
	if errors.As(err, &verr) {
		detail.Field = verr.Field
		detail.Message = verr.Message
	}

	if werr := out.Error(CodeValidation, fmt.Sprintf("%s: invalid mapping table", source), detail); werr != nil {
		return werr
	}
	return WrapExitError(ExitFailure, "invalid mapping table", err)
}

func describeTable(source string, t *mapping.Table) MappingResult {
	result := MappingResult{Source: source, Valid: true}
	for _, f := range t.Fields() {
		row := MappingField{
			Name:         f.LogicalName,
			Type:         string(f.Type),
			Direction:    string(f.Direction),
			RegistryPath: f.RegistryPath,
			PortalPath:   f.PortalPath,
			Enum:         f.EnumName,
		}
		for _, part := range f.PartNames() {
			row.Parts = append(row.Parts, part+"="+f.Parts[part])
		}
		result.Fields = append(result.Fields, row)
	}
	for _, name := range t.Enums() {
		e, _ := t.Enum(name)
		values := make(map[int64]string, e.Len())
		for _, code := range e.Codes() {
			values[code], _ = e.Encode(code)
		}
		result.Enums = append(result.Enums, MappingEnum{Name: name, Values: values})
	}
	return result
}

func printTable(w io.Writer, r MappingResult) {
	fmt.Fprintf(w, "mapping: %s\n\n", r.Source)
	for _, f := range r.Fields {
		registry := f.RegistryPath
		if len(f.Parts) > 0 {
			registry = "{" + strings.Join(f.Parts, ", ") + "}"
		}
		kind := f.Type
		if f.Enum != "" {
			kind += "(" + f.Enum + ")"
		}
		fmt.Fprintf(w, "  %-18s %-24s %-18s %s <-> %s\n", f.Name, kind, f.Direction, registry, f.PortalPath)
	}
	if len(r.Enums) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, e := range r.Enums {
		fmt.Fprintf(w, "  enum %s:", e.Name)
		for _, code := range sortedCodes(e.Values) {
			fmt.Fprintf(w, " %d=%s", code, e.Values[code])
		}
		fmt.Fprintln(w)
	}
}

func sortedCodes(values map[int64]string) []int64 {
	return slices.Sorted(maps.Keys(values))
}
