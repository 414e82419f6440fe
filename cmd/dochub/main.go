// Command dochub is the operator CLI: it drives the pipeline directly against the
// configured stores, bypassing the gateway and the queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"dochub/internal/app"
	"dochub/internal/graph"
	"dochub/internal/store"
	"dochub/internal/summarize"
)

type buildFunc func(ctx context.Context) (app.Deps, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(app.Build).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(build buildFunc) *cli.App {
	withDeps := func(fn func(c *cli.Context, deps app.Deps) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			deps, err := build(c.Context)
			if err != nil {
				return err
			}
			defer deps.Close()
			return fn(c, deps)
		}
	}

	return &cli.App{
		Name:  "dochub",
		Usage: "Operate the document pipeline from the command line",
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Extract, classify and record a pending document",
				ArgsUsage: "<document-id>",
				Action:    withDeps(processCommand),
			},
			{
				Name:      "reprocess",
				Usage:     "Retry a failed or completed document as a new attempt",
				ArgsUsage: "<document-id>",
				Action:    withDeps(reprocessCommand),
			},
			{
				Name:      "summarize",
				Usage:     "Summarize a completed document",
				ArgsUsage: "<document-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Summary type (abstractive, extractive)",
						Value:   string(summarize.Abstractive),
					},
				},
				Action: withDeps(summarizeCommand),
			},
			{
				Name:  "list",
				Usage: "List documents, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "offset", Value: 0},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: withDeps(listCommand),
			},
			{
				Name:      "search",
				Usage:     "Find documents whose extracted text contains a phrase",
				ArgsUsage: "<phrase>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: withDeps(searchCommand),
			},
			{
				Name:      "link",
				Usage:     "Create a relationship between two documents",
				ArgsUsage: "<from-id> <to-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "Relationship type", Value: graph.EdgeRelatedTo},
				},
				Action: withDeps(linkCommand),
			},
			{
				Name:      "related",
				Usage:     "Show documents related to a document",
				ArgsUsage: "<document-id>",
				Action:    withDeps(relatedCommand),
			},
			{
				Name:   "relationships",
				Usage:  "Dump the relationship graph",
				Action: withDeps(relationshipsCommand),
			},
			{
				Name:      "query",
				Usage:     "Run a raw graph query (Cypher for neo4j, key prefix for badger)",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Graph admin token",
						EnvVars:  []string{"DOCHUB_ADMIN_TOKEN"},
						Required: true,
					},
				},
				Action: withDeps(queryCommand),
			},
			{
				Name:  "user",
				Usage: "Register or update a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Existing user id (generated when empty)"},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "role"},
					&cli.StringFlag{Name: "department"},
				},
				Action: withDeps(userCommand),
			},
		},
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func idArg(c *cli.Context, pos int) (uuid.UUID, error) {
	raw := c.Args().Get(pos)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s: missing argument %d (usage: %s)", c.Command.Name, pos+1, c.Command.ArgsUsage)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func processCommand(c *cli.Context, deps app.Deps) error {
	id, err := idArg(c, 0)
	if err != nil {
		return err
	}
	res, err := deps.Pipeline.ProcessDocument(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c, res)
}

func reprocessCommand(c *cli.Context, deps app.Deps) error {
	id, err := idArg(c, 0)
	if err != nil {
		return err
	}
	res, err := deps.Pipeline.Reprocess(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(c, res)
}

func summarizeCommand(c *cli.Context, deps app.Deps) error {
	id, err := idArg(c, 0)
	if err != nil {
		return err
	}
	t, ok := summarize.ParseType(c.String("type"))
	if !ok {
		return fmt.Errorf("unknown summary type %q", c.String("type"))
	}
	out, err := deps.Pipeline.SummarizeDocument(c.Context, id, t)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"document_id":  id,
		"summary_type": out.Summary.Type,
		"summary":      out.Summary.Text,
		"confidence":   out.Summary.Confidence,
		"status":       out.Status,
		"stored":       out.Stored,
	})
}

type documentRow struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	State      string    `json:"state"`
	Category   string    `json:"category,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Language   string    `json:"language,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

func rows(docs []store.Document) []documentRow {
	out := make([]documentRow, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentRow{
			ID:         d.ID,
			Title:      d.Title,
			State:      string(d.State),
			Category:   d.Category,
			Priority:   d.Priority,
			Language:   d.Language,
			Confidence: d.Confidence,
		})
	}
	return out
}

func listCommand(c *cli.Context, deps app.Deps) error {
	docs, err := deps.Store.ListDocuments(c.Context, c.Int("offset"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c, rows(docs))
}

func searchCommand(c *cli.Context, deps app.Deps) error {
	phrase := c.Args().First()
	if phrase == "" {
		return fmt.Errorf("search: missing phrase")
	}
	docs, err := deps.Store.SearchDocuments(c.Context, phrase, c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(c, rows(docs))
}

func linkCommand(c *cli.Context, deps app.Deps) error {
	from, err := idArg(c, 0)
	if err != nil {
		return err
	}
	to, err := idArg(c, 1)
	if err != nil {
		return err
	}
	out, err := deps.Pipeline.LinkDocuments(c.Context, from, to, c.String("type"))
	if err != nil {
		return err
	}
	return printJSON(c, out)
}

func relatedCommand(c *cli.Context, deps app.Deps) error {
	id, err := idArg(c, 0)
	if err != nil {
		return err
	}
	related, err := deps.Pipeline.RelatedDocuments(c.Context, id)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(related))
	for _, r := range related {
		out = append(out, map[string]any{"document": rows([]store.Document{r.Document})[0], "relationship": r.Relationship})
	}
	return printJSON(c, out)
}

func relationshipsCommand(c *cli.Context, deps app.Deps) error {
	return printJSON(c, deps.Pipeline.Relationships(c.Context))
}

func queryCommand(c *cli.Context, deps app.Deps) error {
	raw := c.Args().First()
	if raw == "" {
		return fmt.Errorf("query: missing query")
	}
	capability, err := graph.Authorize(c.String("token"), deps.Config.GraphAdminToken)
	if err != nil {
		return err
	}
	result, err := deps.Graph.Query(c.Context, capability, raw)
	if err != nil {
		return err
	}
	return printJSON(c, result)
}

func userCommand(c *cli.Context, deps app.Deps) error {
	u := store.User{Name: c.String("name"), Role: c.String("role"), Department: c.String("department")}
	if raw := c.String("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", raw, err)
		}
		u.ID = id
	}
	saved, outcome, err := deps.Pipeline.RegisterUser(c.Context, u)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{"id": saved.ID, "name": saved.Name, "graph": outcome})
}
