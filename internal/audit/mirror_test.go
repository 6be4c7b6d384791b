package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"degreeproof/internal/audit"
	"degreeproof/internal/audit/mocks"
	"degreeproof/internal/platform/kafka/consumer"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/testutil"
)

func streamed(t *testing.T, e audit.Entry) *consumer.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return &consumer.Message{Topic: "degreeproof.verifications", Key: []byte(e.Result.ID.String()), Value: b}
}

func TestMirrorAppendsOnce(t *testing.T) {
	ctx := context.Background()
	store := audit.NewInMemoryStore()
	m := audit.NewMirror(store, nil)

	e := audit.Entry{
		Result:  models.Result{ID: domain.NewResultID(), Outcome: models.OutcomeTampered, Method: models.MethodProofScan, Timestamp: testutil.FixedTime},
		Context: models.AuditContext{ActorID: testutil.TestIDs.Verifier1},
	}
	msg := streamed(t, e)

	require.NoError(t, m.Handle(ctx, msg))
	require.NoError(t, m.Handle(ctx, msg), "redelivery is not an error")

	rec, err := store.Get(ctx, e.Result.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeTampered, rec.Result.Outcome)
	assert.Equal(t, testutil.FixedTime, rec.Result.Timestamp.UTC())

	all, err := store.List(ctx, audit.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMirrorSkipsPoison(t *testing.T) {
	m := audit.NewMirror(audit.NewInMemoryStore(), nil)
	assert.NoError(t, m.Handle(context.Background(), &consumer.Message{Value: []byte("{not json")}))
	assert.NoError(t, m.Handle(context.Background(), &consumer.Message{Key: []byte("nope"), Value: []byte(`{}`)}))
}

func TestMirrorReturnsStoreErrorsForRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	m := audit.NewMirror(store, nil)
	e := audit.Entry{Result: models.Result{ID: domain.NewResultID(), Outcome: models.OutcomeVerified}}
	assert.Error(t, m.Handle(context.Background(), streamed(t, e)))
}
