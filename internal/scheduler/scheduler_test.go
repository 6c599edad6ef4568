package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/dlctest/ticketscheduler/internal/common/schedulererrors"
	"github.com/dlctest/ticketscheduler/internal/objectstore"
)

const (
	testImageURI  = "754106851545.dkr.ecr.us-west-2.amazonaws.com/pr-tensorflow-training:2.2.0-gpu-py37-cu101-ubuntu18.04"
	testReturnURL = "https://sqs.us-west-2.amazonaws.com/754106851545/results"
)

// Quota table giving ml.p3.8xlarge-training a limit of 4, mirroring the
// dev-account quota the system was originally tuned against.
func testQuotas() QuotaTable {
	return QuotaTable{
		KindTraining: {ClassP38xlarge: 4},
	}
}

func newTestScheduler(store objectstore.Store, trigger ExecutionTrigger, quotas QuotaTable, clk clock.Clock) *Scheduler {
	sched := NewScheduler(store, trigger, quotas, RetryPolicy{MaxTries: 5}, 13*time.Minute)
	sched.clock = clk
	return sched
}

func putTicket(t *testing.T, store objectstore.Store, name string, created time.Time, tries int, instances int) TicketKey {
	t.Helper()
	ticket := Ticket{
		ImageURI:        testImageURI,
		BuildContext:    "PR",
		ReturnQueueURL:  testReturnURL,
		SchedulingTries: tries,
		Instances:       instances,
		Timestamp:       created.UTC().Format(TimestampLayout),
		TimeoutLimit:    14400,
	}
	body, err := ticket.Marshal()
	require.NoError(t, err)
	key := TicketKey{Name: name, Timestamp: created.UTC().Truncate(time.Second)}
	require.NoError(t, store.Put(context.Background(), key.String(), body))
	return key
}

func queuedKeys(t *testing.T, store objectstore.Store) []string {
	t.Helper()
	objects, err := store.List(context.Background(), RequestPrefix)
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		keys = append(keys, object.Key)
	}
	return keys
}

type testTrigger struct {
	triggered []JobDescriptor
	err       error
	onTrigger func()
}

func (t *testTrigger) Trigger(_ context.Context, job JobDescriptor) error {
	if t.onTrigger != nil {
		t.onTrigger()
	}
	if t.err != nil {
		return t.err
	}
	t.triggered = append(t.triggered, job)
	return nil
}

// flakyStore fails reads of selected keys, simulating transient store errors
// scoped to a single ticket.
type flakyStore struct {
	objectstore.Store
	failGets map[string]bool
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGets[key] {
		return nil, errors.New("transient read failure")
	}
	return s.Store.Get(ctx, key)
}

func TestRunPassAdmitsWithinQuota(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Admitted: 1}, result)

	// The trigger received the full job descriptor.
	require.Len(t, trigger.triggered, 1)
	assert.Equal(t, JobDescriptor{
		ImageURI:       testImageURI,
		BuildContext:   "PR",
		ReturnQueueURL: testReturnURL,
		TicketKey:      key.String(),
		Instances:      1,
	}, trigger.triggered[0])

	// A reservation for 1 instance exists and the ticket is gone.
	utilization, err := NewLedger(store).Utilization(context.Background(), ClassP38xlarge, KindTraining)
	require.NoError(t, err)
	assert.Equal(t, 1, utilization)
	assert.Empty(t, queuedKeys(t, store))
}

func TestRunPassRequeuesWhenQuotaFull(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	// Utilization already at the limit of 4.
	require.NoError(t, store.Put(context.Background(),
		"resource_pool/ml.p3.8xlarge-training/other_2020-06-11-20-00-00#4-running.json", nil))
	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Requeued: 1}, result)
	assert.Empty(t, trigger.triggered)

	// The ticket is still on the queue with its try counter bumped.
	body, err := store.Get(context.Background(), key.String())
	require.NoError(t, err)
	ticket, err := UnmarshalTicket(key.String(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.SchedulingTries)
}

func TestRunPassDeadLettersOnMaxRetries(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	require.NoError(t, store.Put(context.Background(),
		"resource_pool/ml.p3.8xlarge-training/other_2020-06-11-20-00-00#4-running.json", nil))
	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 5, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{DeadLettered: 1}, result)

	assert.Empty(t, queuedKeys(t, store))
	_, err = store.Get(context.Background(), key.DeadLetterKey(ReasonMaxRetries))
	assert.NoError(t, err)
}

func TestRunPassDeadLettersOnTimeout(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 12, 4, 0, 0, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	require.NoError(t, store.Put(context.Background(),
		"resource_pool/ml.p3.8xlarge-training/other_2020-06-11-20-00-00#4-running.json", nil))
	// Age 20000s against a 14400s timeout, tries well under the limit.
	key := putTicket(t, store, "testing-0", testClock.Now().Add(-20000*time.Second), 2, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{DeadLettered: 1}, result)

	assert.Empty(t, queuedKeys(t, store))
	_, err = store.Get(context.Background(), key.DeadLetterKey(ReasonTimeout))
	assert.NoError(t, err)
}

func TestRunPassProcessesTicketsInTimestampOrder(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	quotas := QuotaTable{KindTraining: {ClassP38xlarge: 2}}
	sched := newTestScheduler(store, trigger, quotas, testClock)

	// Names sort lexicographically against their timestamps, so a listing
	// in key order would process them backwards.
	base := testClock.Now().Add(-time.Minute)
	keyZ := putTicket(t, store, "zz-first", base, 0, 1)
	putTicket(t, store, "mm-second", base.Add(time.Second), 0, 1)
	putTicket(t, store, "aa-third", base.Add(2*time.Second), 0, 1)
	putTicket(t, store, "bb-fourth", base.Add(3*time.Second), 0, 1)
	putTicket(t, store, "cc-fifth", base.Add(4*time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	// Limit 2 with one unit of headroom kept: only the chronologically
	// first ticket fits (0+1 < 2); the second already lands on the limit.
	assert.Equal(t, &PassResult{Admitted: 1, Requeued: 4}, result)
	require.Len(t, trigger.triggered, 1)
	assert.Equal(t, keyZ.String(), trigger.triggered[0].TicketKey)

	remaining := queuedKeys(t, store)
	assert.Len(t, remaining, 4)
	assert.NotContains(t, remaining, keyZ.String())
}

func TestRunPassStopsWhenBudgetExhausted(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	// Each triggered job costs 14 minutes of wall clock against a 13 minute
	// budget, so the second ticket is never visited.
	trigger := &testTrigger{}
	trigger.onTrigger = func() { testClock.Step(14 * time.Minute) }
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	base := testClock.Now().Add(-time.Minute)
	putTicket(t, store, "testing-0", base, 0, 1)
	second := putTicket(t, store, "testing-1", base.Add(time.Second), 0, 1)
	third := putTicket(t, store, "testing-2", base.Add(2*time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Admitted: 1, BudgetExhausted: true}, result)

	// Unvisited tickets stay on the queue untouched, ready for the next pass.
	remaining := queuedKeys(t, store)
	assert.ElementsMatch(t, []string{second.String(), third.String()}, remaining)
	body, err := store.Get(context.Background(), second.String())
	require.NoError(t, err)
	ticket, err := UnmarshalTicket(second.String(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, ticket.SchedulingTries)
}

func TestRunPassStopsOnContextCancel(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := sched.RunPass(ctx)
	require.NoError(t, err)
	assert.True(t, result.BudgetExhausted)
	assert.Empty(t, trigger.triggered)
	assert.Equal(t, []string{key.String()}, queuedKeys(t, store))
}

func TestRunPassAbortsOnUnknownResourceClass(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, QuotaTable{}, testClock)

	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	_, err := sched.RunPass(context.Background())
	var unknownClass *schedulererrors.ErrUnknownResourceClass
	assert.ErrorAs(t, err, &unknownClass)

	// Fatal misconfiguration leaves the queue untouched.
	assert.Equal(t, []string{key.String()}, queuedKeys(t, store))
	assert.Empty(t, trigger.triggered)
}

func TestRunPassSkipsMalformedTickets(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	garbageKey := "request_tickets/garbage_2020-06-11-22-13-00.json"
	require.NoError(t, store.Put(context.Background(), garbageKey, []byte("not json")))
	// Non-.json keys are ignored outright.
	require.NoError(t, store.Put(context.Background(), "request_tickets/readme.txt", []byte("hello")))
	putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Admitted: 1, Skipped: 1}, result)

	// The malformed ticket stays put and nothing was dead-lettered.
	assert.Contains(t, queuedKeys(t, store), garbageKey)
	deadLetters, err := store.List(context.Background(), DeadLetterPrefix)
	require.NoError(t, err)
	assert.Empty(t, deadLetters)
}

func TestRunPassTreatsTriggerFailureAsRejection(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	store := objectstore.NewInMemoryStore()
	trigger := &testTrigger{err: &schedulererrors.ErrTriggerFailure{Project: "executor", Reason: "account-limit"}}
	sched := newTestScheduler(store, trigger, testQuotas(), testClock)

	key := putTicket(t, store, "testing-0", testClock.Now().Add(-time.Second), 0, 1)

	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &PassResult{Requeued: 1}, result)

	// No reservation was written and the try counter advanced.
	utilization, err := NewLedger(store).Utilization(context.Background(), ClassP38xlarge, KindTraining)
	require.NoError(t, err)
	assert.Equal(t, 0, utilization)
	body, err := store.Get(context.Background(), key.String())
	require.NoError(t, err)
	ticket, err := UnmarshalTicket(key.String(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.SchedulingTries)
}

func TestRunPassLeavesUnreadableTicketForNextPass(t *testing.T) {
	testClock := clock.NewFakeClock(time.Date(2020, 6, 11, 22, 13, 28, 0, time.UTC))
	memory := objectstore.NewInMemoryStore()
	trigger := &testTrigger{}

	base := testClock.Now().Add(-time.Minute)
	flaky := &flakyStore{Store: memory, failGets: map[string]bool{}}
	broken := putTicket(t, memory, "testing-0", base, 0, 1)
	flaky.failGets[broken.String()] = true
	putTicket(t, memory, "testing-1", base.Add(time.Second), 0, 1)

	sched := newTestScheduler(flaky, trigger, testQuotas(), testClock)
	result, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	// One ticket's read failure never blocks the rest of the pass.
	assert.Equal(t, &PassResult{Admitted: 1, Skipped: 1}, result)
	body, err := memory.Get(context.Background(), broken.String())
	require.NoError(t, err)
	ticket, err := UnmarshalTicket(broken.String(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, ticket.SchedulingTries)
}
