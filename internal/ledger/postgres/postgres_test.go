package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/tokligence/localllama/internal/ledger"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("LOCALLLAMA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LOCALLLAMA_TEST_POSTGRES_DSN not set")
	}
	store, err := New(dsn, 4, 2, 5, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	session := "pg-" + uuid.NewString()
	for _, reason := range []string{"completed", "stopped", "completed"} {
		if err := store.Record(ctx, ledger.Entry{
			GenerationID:     uuid.NewString(),
			SessionID:        session,
			Kind:             ledger.KindStream,
			CompletionTokens: 4,
			FinishReason:     reason,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	summary, err := store.Summary(ctx, session)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Generations != 3 || summary.CompletionTokens != 12 || summary.ByFinishReason["stopped"] != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	recent, err := store.ListRecent(ctx, session, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if _, err := uuid.Parse(recent[0].GenerationID); err != nil {
		t.Fatalf("generation id should round-trip as uuid: %v", err)
	}
}
