package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"healthwatch/internal/pipeline"
	"healthwatch/internal/store/storetest"
	"healthwatch/pkg/models"
)

// TestContract runs against a live server when HEALTHWATCH_MONGO_URI is set.
func TestContract(t *testing.T) {
	uri := os.Getenv("HEALTHWATCH_MONGO_URI")
	if uri == "" {
		t.Skip("HEALTHWATCH_MONGO_URI not set")
	}
	storetest.Run(t, func(t *testing.T) pipeline.AlertStore {
		ctx := context.Background()
		s, err := Open(ctx, Config{URI: uri, Database: "healthwatch_test"})
		require.NoError(t, err)
		_, err = s.alerts.DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
		_, err = s.runs.DeleteMany(ctx, bson.M{})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpenRequiresURI(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestSearchFilter(t *testing.T) {
	assert.Empty(t, searchFilter(models.AlertQuery{}))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := searchFilter(models.AlertQuery{Term: "azure (sql)", Start: &start})

	or, ok := f["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 3)
	title := or[0].(bson.M)["title"].(bson.M)
	assert.Equal(t, `azure \(sql\)`, title["$regex"])
	assert.Equal(t, "i", title["$options"])

	bounds := f["start_time"].(bson.M)
	assert.Equal(t, start, bounds["$gte"])
	_, hasEnd := bounds["$lte"]
	assert.False(t, hasEnd)
}

func TestDocConversion(t *testing.T) {
	in := models.Alert{
		ExternalID:  "m365-1",
		ServiceName: models.ServiceMicrosoft365,
		Title:       "Teams - Meeting Join Issues",
		Severity:    models.SeverityHigh,
		Status:      models.StatusInvestigating,
		StartTime:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		RawPayload:  []byte(`{"id":"1"}`),
	}
	doc := toAlertDoc(in)
	assert.NotNil(t, doc.AffectedServices)
	out := fromAlertDoc(doc)
	assert.Equal(t, in.ExternalID, out.ExternalID)
	assert.Equal(t, in.ServiceName, out.ServiceName)
	assert.Equal(t, `{"id":"1"}`, string(out.RawPayload))
	assert.Nil(t, out.ResolvedAt)

	run := models.RunRecord{
		ID:     "r1",
		Status: models.RunSuccess,
		ServiceTimings: map[models.ServiceName]models.ServiceTiming{
			models.ServiceEntra: {Checked: true, ResponseTimeMs: 12},
		},
	}
	back := fromRunDoc(toRunDoc(run))
	assert.Equal(t, []string{}, back.Errors)
	assert.Equal(t, int64(12), back.ServiceTimings[models.ServiceEntra].ResponseTimeMs)
}
