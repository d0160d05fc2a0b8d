package dynamodb

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/lupppig/notifysender/internal/awsconfig"
	"github.com/lupppig/notifysender/internal/store"
	"github.com/lupppig/notifysender/internal/store/storetest"
)

// Set NOTIFIER_TEST_DYNAMODB_ENDPOINT (e.g. http://localhost:8000) to run the
// suite against DynamoDB Local.
func TestStore(t *testing.T) {
	endpoint := os.Getenv("NOTIFIER_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("NOTIFIER_TEST_DYNAMODB_ENDPOINT not set")
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.Load(ctx, awsconfig.Options{Region: "us-east-1", Endpoint: endpoint})
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	client := dynamodb.NewFromConfig(awsCfg)
	cfg := Config{AttemptsTable: "test_delivery_attempts", OutcomesTable: "test_notification_outcomes"}
	if err := CreateTables(ctx, client, cfg); err != nil {
		t.Fatalf("create tables: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		// A fresh namespace per subtest isolates it from earlier ones.
		cfg := cfg
		cfg.Namespace = gonanoid.Must(12)
		return New(client, cfg)
	})
}

func TestKeysAreNamespaced(t *testing.T) {
	s := New(nil, Config{Namespace: "rrkah-fqaaa-aaaaa-aaaaq-cai"})

	if got := s.outcomePK("42"); got != "rrkah-fqaaa-aaaaa-aaaaq-cai#42" {
		t.Errorf("unexpected outcome key %q", got)
	}
}
