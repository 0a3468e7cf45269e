package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/starford/mdbase/internal"
	"github.com/starford/mdbase/internal/docservice"
	"github.com/starford/mdbase/internal/frontmatter"
	"github.com/starford/mdbase/internal/graph"
	"github.com/starford/mdbase/internal/mcpserver"
	"github.com/starford/mdbase/internal/search"
	"github.com/starford/mdbase/internal/validate"
)

func newMCPServer(st *internal.Stack) *mcpserver.Server {
	return mcpserver.New(st.Repo, st.Docs, st.Validator, version)
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s: missing %s argument", cmd.Name, name)
	}
	return v, nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List documents",
		ArgsUsage: "[collection]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "field", Usage: "Metadata field to filter on"},
			&cli.StringFlag{Name: "value", Usage: "Value the field must equal"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of documents, 0 for all"},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			items, total, err := st.Docs.List(ctx, docservice.ListOptions{
				Collection: cmd.Args().First(),
				Field:      cmd.String("field"),
				Value:      cmd.String("value"),
				Limit:      int(cmd.Int("limit")),
			})
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(stdout(cmd), map[string]any{"documents": items, "total": total})
			}
			rows := make([]search.Row, len(items))
			for i, it := range items {
				rows[i] = search.Row{Path: it.Path, Collection: it.Collection, ID: it.ID, Name: it.Title}
			}
			return search.WriteTable(stdout(cmd), rows)
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a document by path or id",
		ArgsUsage: "<path|id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the document with backlinks as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			token, err := requireArg(cmd, "document")
			if err != nil {
				return err
			}
			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := st.Docs.Get(ctx, token)
			if err != nil {
				return describe(err)
			}
			if cmd.Bool("json") {
				return writeJSON(stdout(cmd), d)
			}
			out, err := frontmatter.Serialize(d.Metadata, d.Content)
			if err != nil {
				return err
			}
			_, err = stdout(cmd).Write(out)
			return err
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search documents; field:value queries match metadata exactly",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "table, csv, tsv or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			q := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("search: missing query argument")
			}
			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.Search.Query(ctx, q)
			if err != nil {
				return err
			}
			return writeResults(stdout(cmd), res, cmd.String("format"))
		},
	}
}

func writeResults(w io.Writer, res *search.Results, format string) error {
	rows := search.Rows(res.Hits)
	switch format {
	case "table", "":
		return search.WriteTable(w, rows)
	case "csv":
		return search.WriteDelimited(w, rows, ',')
	case "tsv":
		return search.WriteDelimited(w, rows, '\t')
	case "json":
		return writeJSON(w, res)
	default:
		return fmt.Errorf("search: unknown format %q", format)
	}
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Usage:     "Export the relationship graph",
		ArgsUsage: "[collection|document]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "dot", Usage: "dot, mermaid or json"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			c, err := graph.Load(ctx, st.Repo)
			if err != nil {
				return err
			}
			g := graph.Build(c, cmd.Args().First())
			w := stdout(cmd)
			switch f := cmd.String("format"); f {
			case "dot":
				_, err = io.WriteString(w, graph.DOT(g))
			case "mermaid":
				_, err = io.WriteString(w, graph.Mermaid(g))
			case "json":
				err = writeJSON(w, g)
			default:
				err = fmt.Errorf("graph: unknown format %q", f)
			}
			return err
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the repository and optionally repair it",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fix", Usage: "Apply automatic repairs"},
			&cli.BoolFlag{Name: "prune", Usage: "With --fix, also remove unreferenced attachments"},
			&cli.BoolFlag{Name: "json", Usage: "Print the report as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := st.Validator.Check(ctx, validate.Options{
				Fix:              cmd.Bool("fix"),
				PruneAttachments: cmd.Bool("prune"),
			})
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				err = writeJSON(stdout(cmd), rep)
			} else {
				err = printReport(stdout(cmd), rep)
			}
			if err != nil {
				return err
			}
			if unresolved(rep) > 0 {
				return errIssuesFound
			}
			return nil
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "Create a document in a collection",
		ArgsUsage: "<collection>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "field", Aliases: []string{"f"}, Usage: "key=value, the value is read as YAML"},
			&cli.StringFlag{Name: "content", Aliases: []string{"m"}, Usage: "Markdown body, - reads stdin"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			col, err := requireArg(cmd, "collection")
			if err != nil {
				return err
			}
			fields, err := parseFields(cmd.StringSlice("field"))
			if err != nil {
				return err
			}
			content := cmd.String("content")
			if content == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				content = string(data)
			}

			st, _, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := st.Docs.Create(ctx, docservice.CreateInput{Collection: col, Fields: fields, Content: content})
			if err != nil {
				return describe(err)
			}
			_, err = fmt.Fprintln(stdout(cmd), d.Path)
			return err
		},
	}
}

// parseFields turns key=value pairs into metadata. Values are decoded as YAML
// scalars so numbers and booleans keep their type.
func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("field %q: want key=value", p)
		}
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil || val == nil {
			val = v
		}
		fields[k] = val
	}
	return fields, nil
}
