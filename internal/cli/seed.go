package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/decoder"
	"github.com/barrowworks/barrow/internal/runner"
	"github.com/barrowworks/barrow/pkg/changefeed"
)

var (
	seedCount  int
	seedSource string
	seedURL    string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic deletion records to the feed",
	Long: `Generate fake deletion records and publish them to the feed stream.

Useful for exercising a running archiver without a real change feed:

  barrow seed --count 100 --source users-prod`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVarP(&seedCount, "count", "c", 10, "number of records to publish")
	seedCmd.Flags().StringVar(&seedSource, "source", "users-prod", "source the records claim to come from")
	seedCmd.Flags().StringVar(&seedURL, "url", "", "NATS URL (default: feed.url from config)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	url := seedURL
	if url == "" {
		url = cfg.Feed.URL
	}

	conn, err := nats.Connect(url, nats.Name("barrow-seed"))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The stream must exist before the first publish. Same definition the
	// serve command provisions, so whichever starts first wins.
	if _, err := js.CreateOrUpdateStream(ctx, runner.StreamConfig(runner.Config{
		StreamName: cfg.Feed.Stream,
		Subjects:   cfg.Feed.Subjects,
	})); err != nil {
		return fmt.Errorf("create feed stream: %w", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	subject := "archive.feed." + seedSource
	start := time.Now()
	for i := 0; i < seedCount; i++ {
		data, err := json.Marshal(fakeRemoval(i))
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		msg := &nats.Msg{
			Subject: subject,
			Header:  nats.Header{},
			Data:    data,
		}
		msg.Header.Set(runner.HeaderSource, seedSource)
		msg.Header.Set(runner.HeaderFormat, decoder.FormatDynamoStreams)

		if _, err := js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("publish record %d: %w", i+1, err)
		}
	}

	fmt.Printf("Published %d deletion records to %s in %v\n",
		seedCount, subject, time.Since(start).Round(time.Millisecond))
	return nil
}

// fakeRemoval builds one REMOVE record with a plausible user profile as
// the prior state.
func fakeRemoval(seq int) changefeed.Record {
	username := gofakeit.Username()
	now := time.Now()
	createdAt := now.Add(-time.Duration(gofakeit.Number(1, 720)) * 24 * time.Hour)

	return changefeed.Record{
		EventID:        uuid.New().String(),
		EventName:      changefeed.EventNameRemove,
		EventVersion:   "1.1",
		EventSource:    "aws:dynamodb",
		EventSourceARN: fmt.Sprintf("arn:aws:dynamodb:us-east-1:000000000000:table/%s/stream/seed", seedSource),
		AWSRegion:      "us-east-1",
		Change: &changefeed.StreamChange{
			ApproximateCreationDateTime: float64(now.Unix()),
			Keys: map[string]changefeed.AttributeValue{
				"PK": changefeed.String("USER#" + username),
				"SK": changefeed.String("PROFILE"),
			},
			OldImage: map[string]changefeed.AttributeValue{
				"PK":         changefeed.String("USER#" + username),
				"SK":         changefeed.String("PROFILE"),
				"email":      changefeed.String(gofakeit.Email()),
				"name":       changefeed.String(gofakeit.Name()),
				"city":       changefeed.String(gofakeit.City()),
				"created_at": changefeed.Number(strconv.FormatInt(createdAt.Unix(), 10)),
			},
			SequenceNumber: strconv.Itoa(100000 + seq),
			SizeBytes:      512,
			StreamViewType: "NEW_AND_OLD_IMAGES",
		},
	}
}
