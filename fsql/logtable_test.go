package fsql_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlane/fanout"
	"github.com/ledgerlane/fanout/fsql"
)

func TestDeliveryLogAppend(t *testing.T) {
	dbc := ConnectTestDB(t)
	table := fsql.NewDeliveryLogTable()
	ctx := context.Background()

	// One row per attempt; retries accumulate rows for the same pair.
	for i := 0; i < 2; i++ {
		err := table.Insert(ctx, dbc, &fanout.DeliveryEntry{
			EventID:        "e1",
			SubscriptionID: "s1",
			TenantID:       "t1",
			Status:         fanout.DeliveryFailed,
			Response:       "accounts not found",
		})
		jtest.RequireNil(t, err)
	}
	err := table.Insert(ctx, dbc, &fanout.DeliveryEntry{
		EventID:        "e1",
		SubscriptionID: "s1",
		TenantID:       "t1",
		Status:         fanout.DeliverySuccess,
		Response:       `{"action":"applied"}`,
	})
	jtest.RequireNil(t, err)

	entries, err := table.ListEntriesSince(ctx, dbc, time.Now().Add(-time.Hour), 10)
	jtest.RequireNil(t, err)
	require.Len(t, entries, 3)

	// Oldest first with auto increment ids.
	require.Equal(t, fanout.DeliveryFailed, entries[0].Status)
	require.Equal(t, fanout.DeliverySuccess, entries[2].Status)
	require.Less(t, entries[0].ID, entries[2].ID)
	require.Equal(t, `{"action":"applied"}`, entries[2].Response)
	require.False(t, entries[2].CreatedAt.IsZero())
}

func TestListEntriesSince(t *testing.T) {
	dbc := ConnectTestDB(t)
	table := fsql.NewDeliveryLogTable()
	ctx := context.Background()

	err := table.Insert(ctx, dbc, &fanout.DeliveryEntry{
		EventID:        "e1",
		SubscriptionID: "s1",
		TenantID:       "t1",
		Status:         fanout.DeliverySuccess,
	})
	jtest.RequireNil(t, err)

	entries, err := table.ListEntriesSince(ctx, dbc, time.Now().Add(time.Hour), 10)
	jtest.RequireNil(t, err)
	require.Empty(t, entries)

	entries, err = table.ListEntriesSince(ctx, dbc, time.Now().Add(-time.Hour), 10)
	jtest.RequireNil(t, err)
	require.Len(t, entries, 1)
}
