package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/archivepath"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

var (
	deriveSource string
	deriveKeys   []string
	deriveImage  string
	deriveSchema string
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive the archive path for a record identity",
	Long: `Derive the deterministic archive path for a record identity without
writing anything.

Key attributes can be given as repeated name=value pairs (string
attributes) or as a raw key image in the stream wire format.

Examples:
  # String key attributes with an explicit schema order
  barrow derive --source users-prod --key PK=USER#123 --key SK=PROFILE --schema PK,SK

  # Typed key image
  barrow derive --source orders-prod --image '{"OrderID":{"N":"998"}}'`,
	RunE: runDerive,
}

func init() {
	rootCmd.AddCommand(deriveCmd)

	deriveCmd.Flags().StringVar(&deriveSource, "source", "", "source stream name (required)")
	deriveCmd.Flags().StringArrayVar(&deriveKeys, "key", nil, "key attribute as name=value, repeatable")
	deriveCmd.Flags().StringVar(&deriveImage, "image", "", "key image as JSON in the stream wire format")
	deriveCmd.Flags().StringVar(&deriveSchema, "schema", "", "comma-separated key schema order")
	deriveCmd.MarkFlagRequired("source")
}

func runDerive(cmd *cobra.Command, args []string) error {
	key := make(map[string]changefeed.AttributeValue)

	if deriveImage != "" {
		if err := json.Unmarshal([]byte(deriveImage), &key); err != nil {
			return fmt.Errorf("parse key image: %w", err)
		}
	}
	for _, pair := range deriveKeys {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid key %q, expected name=value", pair)
		}
		v := value
		key[name] = changefeed.AttributeValue{S: &v}
	}
	if len(key) == 0 {
		return fmt.Errorf("at least one --key or an --image is required")
	}
	if err := changefeed.ValidateImage(key); err != nil {
		return err
	}

	var schema []string
	if deriveSchema != "" {
		schema = strings.Split(deriveSchema, ",")
		for i := range schema {
			schema[i] = strings.TrimSpace(schema[i])
		}
	}

	ordered := archivepath.Order(key, schema)
	path, err := archivepath.Derive(deriveSource, ordered)
	if err != nil {
		return err
	}

	fmt.Println(path)
	return nil
}
