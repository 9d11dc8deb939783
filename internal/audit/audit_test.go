package audit

import (
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalsDetailsAndPersists(t *testing.T) {
	st := store.NewMem()
	l := New(st)

	err := l.Record("login", "user-1", "authenticate", "session", store.AuditSuccess, map[string]string{"method": "api_key"}, "10.0.0.1", "curl/8")
	require.NoError(t, err)

	events, err := l.Query("user-1", "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "login", events[0].EventType)
	assert.Contains(t, events[0].DetailsJSON, "api_key")
}

func TestRecordSwallowsUnmarshalableDetails(t *testing.T) {
	st := store.NewMem()
	l := New(st)

	err := l.Record("rate_limit", "user-2", "POST", "/evaluate", store.AuditDenied, make(chan int), "10.0.0.2", "ua")
	require.NoError(t, err)

	events, err := l.Query("user-2", "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].DetailsJSON)
}

func TestEraseNullsIdentifiersButKeepsRecord(t *testing.T) {
	st := store.NewMem()
	l := New(st)

	require.NoError(t, l.Record("login", "user-3", "authenticate", "session", store.AuditSuccess, nil, "10.0.0.3", "ua"))

	erased, err := l.Erase("user-3")
	require.NoError(t, err)
	assert.Equal(t, 1, erased)

	events, err := l.Query("", "login", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].PrincipalID)
	assert.Empty(t, events[0].IP)
}
