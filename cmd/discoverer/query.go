package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/c360studio/discoverer/config"
	"github.com/c360studio/discoverer/mediator"
	"github.com/c360studio/discoverer/processor/discoverer"
	"github.com/c360studio/discoverer/query"
)

type queryOptions struct {
	file    string
	subject string
	timeout time.Duration
	asJSON  bool
}

func queryCmd(flags *globalFlags) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query [QUERY_JSON]",
		Short: "Search the registry",
		Long: `Send a search to a running discoverer and print the matching components.

The query is a JSON tree of comparisons, for example:

  discoverer query '{"field":"type","cmp":"eq","value":"server"}'

With no argument and no --file the query is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := config.NewLoader(logger).Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			raw, err := readQuery(cmd.InOrStdin(), args, opts.file)
			if err != nil {
				return err
			}

			resp, err := runQuery(cmd.Context(), cfg, opts, raw)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp, opts.asJSON)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read the query from a file")
	cmd.Flags().StringVar(&opts.subject, "subject", "discoverer.query", "Query request subject")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the raw JSON response")

	return cmd
}

// readQuery returns the query JSON from the argument, the file or stdin, in
// that order, after checking it parses.
func readQuery(stdin io.Reader, args []string, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(args) == 1:
		data = []byte(args[0])
	case file != "":
		data, err = os.ReadFile(file)
	default:
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}

	if _, err := query.ParseNode(data); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	return json.RawMessage(data), nil
}

func runQuery(ctx context.Context, cfg *config.Config, opts *queryOptions, raw json.RawMessage) (*discoverer.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(&discoverer.QueryRequest{Query: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	conn, err := nats.Connect(cfg.NATS.URL, nats.Name(appName+"-query"), nats.Timeout(opts.timeout))
	if err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}
	defer conn.Close()

	reqCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	msg, err := conn.RequestWithContext(reqCtx, opts.subject, payload)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", opts.subject, err)
	}

	return decodeResponse(msg.Data)
}

func decodeResponse(data []byte) (*discoverer.Response, error) {
	var resp discoverer.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != mediator.CodeNoError {
		return nil, fmt.Errorf("discoverer returned %s: %s", resp.Code, resp.Error)
	}
	return &resp, nil
}

func printResponse(w io.Writer, resp *discoverer.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Result == nil || resp.Result.Count == 0 {
		_, err := fmt.Fprintln(w, "no matching components")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tHOSTNAME\tPORT")
	for _, c := range resp.Result.Components {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.ID, c.Type, c.Hostname, c.Port)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d component(s)\n", resp.Result.Count)
	return err
}
