package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	n := audit.Notification{
		AuditID:   "a1",
		URL:       "https://example.com",
		Status:    audit.StatusCompleted,
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	id1, err := pub.Publish(context.Background(), "audits", n)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "audits", msgs[0].Topic)
	require.JSONEq(t,
		`{"audit_id":"a1","url":"https://example.com","status":"COMPLETED","timestamp":"2025-01-01T00:00:00Z"}`,
		string(msgs[0].Data))
	require.Equal(t, map[string]string{"audit_id": "a1", "status": "COMPLETED"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "audits", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "audits", func() {})
	require.ErrorContains(t, err, "marshal payload")

	boom := errors.New("broker down")
	pub.FailWith(boom)
	_, err = pub.Publish(context.Background(), "audits", "x")
	require.ErrorIs(t, err, boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "audits", "x")
	require.NoError(t, err)
}
