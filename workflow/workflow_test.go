package workflow

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbhq-uk/cortex/message"
	"github.com/dbhq-uk/cortex/refcode"
)

func code(t *testing.T, seq int) refcode.ReferenceCode {
	t.Helper()
	c, err := refcode.New(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), seq)
	require.NoError(t, err)
	return c
}

func envelope(t *testing.T, content string, seq int) *message.Envelope {
	t.Helper()
	env, err := message.NewEnvelope(&message.TaskRequest{Base: message.NewBase(), Content: content}, code(t, seq))
	require.NoError(t, err)
	return env
}

func threeTaskRecord(t *testing.T) Record {
	t.Helper()
	return Record{
		ReferenceCode:    code(t, 100),
		OriginalEnvelope: envelope(t, "prepare quarterly report", 100),
		Summary:          "quarterly report plan",
		Subtasks: []Subtask{
			{ReferenceCode: code(t, 101), Capability: "research", Description: "gather figures"},
			{ReferenceCode: code(t, 102), Capability: "draft", Description: "write sections"},
			{ReferenceCode: code(t, 103), Capability: "format", Description: "apply template"},
		},
	}
}

func TestCreateAndLookup(t *testing.T) {
	tr := NewTracker()
	record := threeTaskRecord(t)
	require.NoError(t, tr.Create(record))

	got, ok := tr.Get(record.ReferenceCode)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	bySubtask, ok := tr.FindBySubtask(code(t, 102))
	require.True(t, ok)
	assert.Equal(t, record.ReferenceCode, bySubtask.ReferenceCode)

	_, ok = tr.FindBySubtask(code(t, 999))
	assert.False(t, ok)
}

func TestCreateRejectsIndexViolations(t *testing.T) {
	tr := NewTracker()
	record := threeTaskRecord(t)
	require.NoError(t, tr.Create(record))

	// Duplicate parent.
	assert.Error(t, tr.Create(record))

	// A subtask code may appear in only one live workflow.
	other := Record{
		ReferenceCode:    code(t, 200),
		OriginalEnvelope: envelope(t, "other", 200),
		Subtasks:         []Subtask{{ReferenceCode: code(t, 101), Capability: "research"}},
	}
	assert.Error(t, tr.Create(other))

	// Parent appearing among its own subtasks.
	selfRef := Record{
		ReferenceCode:    code(t, 300),
		OriginalEnvelope: envelope(t, "self", 300),
		Subtasks:         []Subtask{{ReferenceCode: code(t, 300)}},
	}
	assert.Error(t, tr.Create(selfRef))

	// Empty workflows are meaningless.
	assert.Error(t, tr.Create(Record{ReferenceCode: code(t, 400), Subtasks: nil}))
}

func TestStoreResultCompletenessInArbitraryOrder(t *testing.T) {
	tr := NewTracker()
	record := threeTaskRecord(t)
	require.NoError(t, tr.Create(record))

	// Replies arrive out of order; completeness fires only on the last.
	parent, complete, err := tr.StoreSubtaskResult(code(t, 103), envelope(t, "formatted", 103))
	require.NoError(t, err)
	assert.Equal(t, record.ReferenceCode, parent)
	assert.False(t, complete)
	assert.False(t, tr.AllSubtasksComplete(parent))

	_, complete, err = tr.StoreSubtaskResult(code(t, 101), envelope(t, "figures", 101))
	require.NoError(t, err)
	assert.False(t, complete)

	_, complete, err = tr.StoreSubtaskResult(code(t, 102), envelope(t, "sections", 102))
	require.NoError(t, err)
	assert.True(t, complete)
	assert.True(t, tr.AllSubtasksComplete(parent))

	// Results come back ordered by task order, not arrival order.
	results, err := tr.CompletedResults(parent)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "research", results[0].Subtask.Capability)
	assert.Equal(t, "draft", results[1].Subtask.Capability)
	assert.Equal(t, "format", results[2].Subtask.Capability)
	assert.Equal(t, "figures", results[0].Envelope.Message.(*message.TaskRequest).Content)
}

func TestCompleteFiresForExactlyOneCaller(t *testing.T) {
	tr := NewTracker()

	subtasks := make([]Subtask, 20)
	for i := range subtasks {
		subtasks[i] = Subtask{ReferenceCode: code(t, 500+i), Capability: fmt.Sprintf("cap-%d", i)}
	}
	record := Record{
		ReferenceCode:    code(t, 499),
		OriginalEnvelope: envelope(t, "parallel", 499),
		Subtasks:         subtasks,
	}
	require.NoError(t, tr.Create(record))

	var wg sync.WaitGroup
	var completeCount sync.Map
	total := 0
	for i := range subtasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, complete, err := tr.StoreSubtaskResult(subtasks[i].ReferenceCode, envelope(t, "r", 600+i))
			require.NoError(t, err)
			if complete {
				completeCount.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	completeCount.Range(func(_, _ any) bool {
		total++
		return true
	})
	assert.Equal(t, 1, total, "assembly must be claimed exactly once")
}

func TestStoreResultUnknownSubtask(t *testing.T) {
	tr := NewTracker()
	_, _, err := tr.StoreSubtaskResult(code(t, 1), envelope(t, "x", 1))
	assert.Error(t, err)
}

func TestUpdateStatusTransitions(t *testing.T) {
	tr := NewTracker()
	record := threeTaskRecord(t)
	require.NoError(t, tr.Create(record))

	require.NoError(t, tr.UpdateStatus(record.ReferenceCode, StatusCompleted))
	got, _ := tr.Get(record.ReferenceCode)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Completed workflows admit no further transitions.
	assert.Error(t, tr.UpdateStatus(record.ReferenceCode, StatusFailed))

	// InProgress is not a legal target.
	record2 := threeTaskRecord(t)
	record2.ReferenceCode = code(t, 700)
	for i := range record2.Subtasks {
		record2.Subtasks[i].ReferenceCode = code(t, 701+i)
	}
	require.NoError(t, tr.Create(record2))
	assert.Error(t, tr.UpdateStatus(record2.ReferenceCode, StatusInProgress))
	require.NoError(t, tr.UpdateStatus(record2.ReferenceCode, StatusFailed))
}
