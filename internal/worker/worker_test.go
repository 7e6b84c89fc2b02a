package worker

import (
	"context"
	"testing"

	"decoration-service/internal/broker"
	"decoration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	cmds []*models.Command
	err  error
}

func (r *recordingHandler) Handle(_ context.Context, cmd *models.Command) error {
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func TestHandleSwallowsRejections(t *testing.T) {
	rec := &recordingHandler{err: models.NewError(models.KindNotReady, "coating is IN_PROGRESS")}
	w := &CommandWorker{processor: rec}

	err := w.handle(context.Background(), &models.Command{CorrelationID: "c-1", Type: models.CommandDispatch})
	assert.NoError(t, err)
	require.Len(t, rec.cmds, 1)
	assert.Equal(t, "c-1", rec.cmds[0].CorrelationID)
}

func TestHandlerRoutesCommandMessages(t *testing.T) {
	rec := &recordingHandler{}
	w := &CommandWorker{processor: rec}
	eh := broker.NewEventHandler()
	eh.OnCommand(w.handle)

	require.NoError(t, eh.Route(context.Background(), []byte(`{"type":"dispatch","correlation_id":"c-2","order_number":"PO-1"}`)))
	// replies on the same topic are ignored
	require.NoError(t, eh.Route(context.Background(), []byte(`{"event_type":"MUTATION_CONFIRMED","correlation_id":"c-2"}`)))

	require.Len(t, rec.cmds, 1)
	assert.Equal(t, models.CommandDispatch, rec.cmds[0].Type)
}
