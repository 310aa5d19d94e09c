package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxtable/tabletclient/pkg/client"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

var modifyCmd = &cobra.Command{
	Use:   "modify PATH",
	Short: "Write or delete rows in a single auto-committed transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runModify,
}

func init() {
	modifyCmd.Flags().String("schema", "", "Column schema, e.g. id:key,name,value")
	modifyCmd.Flags().StringArray("row", nil, "Row fields, e.g. id=1,name=foo (repeatable)")
	modifyCmd.Flags().Bool("delete", false, "Delete the given rows instead of writing them")
	_ = modifyCmd.MarkFlagRequired("schema")
	_ = modifyCmd.MarkFlagRequired("row")

	rootCmd.AddCommand(modifyCmd)
}

func runModify(cmd *cobra.Command, args []string) error {
	path := args[0]
	schemaSpec, _ := cmd.Flags().GetString("schema")
	rowSpecs, _ := cmd.Flags().GetStringArray("row")
	deleteFlag, _ := cmd.Flags().GetBool("delete")

	schema, err := parseSchema(schemaSpec)
	if err != nil {
		return err
	}
	rows := make([]rowbuffer.Row, 0, len(rowSpecs))
	for _, spec := range rowSpecs {
		row, err := parseRow(schema, spec)
		if err != nil {
			return fmt.Errorf("row %q: %w", spec, err)
		}
		rows = append(rows, row)
	}

	command := wire.CommandWriteRow
	if deleteFlag {
		command = wire.CommandDeleteRow
	}

	c, closeFn, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	commitTS, err := c.ModifyAndCommit(ctx, path, schema, command, rows, client.ModifyAndCommitOptions{
		Start:             rpc.StartTransactionOptions{Atomicity: types.AtomicityFull},
		TabletIndexColumn: -1,
	})
	if err != nil {
		return fmt.Errorf("modify failed: %w", err)
	}
	fmt.Printf("committed %d row(s) at timestamp %d (command=%s)\n", len(rows), commitTS, command)
	return nil
}
