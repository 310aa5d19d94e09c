package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxtable/tabletclient/pkg/client"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup PATH",
	Short: "Look up rows by key",
	Args:  cobra.ExactArgs(1),
	RunE:  runLookup,
}

func init() {
	lookupCmd.Flags().String("schema", "", "Column schema, e.g. id:key,name,value")
	lookupCmd.Flags().StringArray("key", nil, "Key fields, e.g. id=1 (repeatable)")
	lookupCmd.Flags().Bool("keep-missing", false, "Keep null rows for keys with no match")
	_ = lookupCmd.MarkFlagRequired("schema")
	_ = lookupCmd.MarkFlagRequired("key")

	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	path := args[0]
	schemaSpec, _ := cmd.Flags().GetString("schema")
	keySpecs, _ := cmd.Flags().GetStringArray("key")
	keepMissing, _ := cmd.Flags().GetBool("keep-missing")

	schema, err := parseSchema(schemaSpec)
	if err != nil {
		return err
	}

	keys := make([]rowbuffer.Row, 0, len(keySpecs))
	for _, spec := range keySpecs {
		row, err := parseRow(schema, spec)
		if err != nil {
			return fmt.Errorf("key %q: %w", spec, err)
		}
		keys = append(keys, row)
	}

	c, closeFn, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	result, err := c.Lookup(context.Background(), path, schema, keys, client.LookupOptions{KeepMissingRows: keepMissing})
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	for i, row := range result {
		fmt.Printf("row %d:", i)
		for j, col := range schema.Columns {
			if j < len(row.Values) {
				fmt.Printf(" %s=%v", col.Name, row.Values[j])
			}
		}
		fmt.Println()
	}
	return nil
}
