package main

import (
	"encoding/json"
	"fmt"
	"strings"

	paros "github.com/parosapp/paros-go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	queryFilters []string
	queryOrderBy string
	queryDesc    bool
	queryLimit   int
	queryOffset  int
)

var queryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Query a collection",
	Long: `Query a collection with optional filters. A filter is field:op:value, the
value parsed as JSON with a bare-string fallback:

  parosctl query listings -f city:eq:pune -f rent:lte:20000 --order-by rent --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		filters, err := parseFilters(queryFilters)
		if err != nil {
			return err
		}
		opts := paros.QueryOptions{
			OrderBy: queryOrderBy,
			Limit:   queryLimit,
			Offset:  queryOffset,
		}
		if queryDesc {
			opts.Direction = paros.Descending
		}

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		docs, err := b.Database().Query(ctx, args[0], filters, opts)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := printDocument(doc); err != nil {
				return err
			}
		}
		fmt.Printf("%d document(s)\n", len(docs))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Fetch one document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		doc, found, err := b.Database().GetByID(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("%s/%s does not exist", args[0], args[1])
		}
		return printDocument(doc)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <collection> <json>",
	Short: "Create a document from a JSON body",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		data := make(map[string]any)
		if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
			return errors.Wrap(err, "create parse body")
		}

		b, cleanup, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		doc, err := b.Database().Create(ctx, args[0], data)
		if err != nil {
			return err
		}
		fmt.Printf("created %s/%s\n", args[0], doc.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)

	queryCmd.Flags().StringArrayVarP(&queryFilters, "filter", "f", nil, "filter as field:op:value, repeatable")
	queryCmd.Flags().StringVar(&queryOrderBy, "order-by", "", "field to order by")
	queryCmd.Flags().BoolVar(&queryDesc, "desc", false, "order descending")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum number of documents")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "number of documents to skip")
}

func parseFilters(raw []string) ([]paros.QueryFilter, error) {
	filters := make([]paros.QueryFilter, 0, len(raw))
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, errors.Errorf("filter %q is not field:op:value", entry)
		}
		var value any
		if err := json.Unmarshal([]byte(parts[2]), &value); err != nil {
			value = parts[2]
		}
		filters = append(filters, paros.QueryFilter{
			Field: parts[0],
			Op:    paros.Operator(parts[1]),
			Value: value,
		})
	}
	return filters, nil
}

func printDocument(doc paros.Document) error {
	body := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		body[k] = v
	}
	body["id"] = doc.ID
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "printDocument")
	}
	fmt.Println(string(encoded))
	return nil
}
