package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/InsulaLabs/fleet/internal/tkv"
	"github.com/InsulaLabs/fleet/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeOracle answers from a fixed table. Unknown ids do not exist.
type fakeOracle struct {
	mu    sync.Mutex
	blobs map[string]*int
	err   error
	calls int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{blobs: map[string]*int{}}
}

func (o *fakeOracle) add(fileID string, hint *int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[fileID] = hint
}

func (o *fakeOracle) remove(fileID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blobs, fileID)
}

func (o *fakeOracle) Exists(ctx context.Context, fileID string) (models.BlobPresence, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return models.BlobPresence{}, o.err
	}
	hint, ok := o.blobs[fileID]
	if !ok {
		return models.BlobPresence{}, nil
	}
	return models.BlobPresence{Exists: true, ReplicaHint: hint}, nil
}

type failingStore struct {
	err error
}

func (f *failingStore) Get(string) (string, error) { return "", f.err }
func (f *failingStore) Set(string, string) error   { return f.err }
func (f *failingStore) Delete(string) error        { return f.err }
func (f *failingStore) List() ([]tkv.Entry, error) { return nil, f.err }

// setFailStore reads fine but refuses every write.
type setFailStore struct {
	Store
	err error
}

func (s *setFailStore) Set(string, string) error { return s.err }

func newTestDB(t *testing.T) tkv.TKV {
	t.Helper()
	db, err := tkv.New(tkv.Config{
		Logger:         testLogger(),
		BadgerLogLevel: slog.LevelError,
		InMemory:       true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newShards(db tkv.TKV, n int) []Store {
	shards := make([]Store, n)
	for i := range shards {
		shards[i] = tkv.NewPartition(db, ShardPrefix(i))
	}
	return shards
}

func newTestCoordinator(t *testing.T, shards int) (*Coordinator, *fakeOracle) {
	t.Helper()
	oracle := newFakeOracle()
	c, err := New(Config{
		Logger: testLogger(),
		Shards: newShards(newTestDB(t), shards),
		Oracle: oracle,
	})
	require.NoError(t, err)
	return c, oracle
}

func hint(n int) *int {
	return &n
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Oracle: newFakeOracle()})
	assert.ErrorIs(t, err, ErrNoShards)

	_, err = New(Config{Shards: []Store{&failingStore{}}})
	assert.ErrorIs(t, err, ErrNoOracle)

	c, err := New(Config{Shards: []Store{&failingStore{}}, Oracle: newFakeOracle(), DefaultReplicas: -3})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRequiredReplicas, c.DefaultReplicas())
}

func TestStatusCreatesRecordFromOracle(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	ctx := context.Background()

	oracle.add("plain", nil)
	oracle.add("hinted", hint(5))
	oracle.add("zero", hint(0))

	record, err := c.Status(ctx, "plain")
	require.NoError(t, err)
	want := models.FileRecord{FileID: "plain", RequiredReplicas: 2, AssignedNodes: []string{}}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Errorf("Status(plain) mismatch (-want +got):\n%s", diff)
	}

	record, err = c.Status(ctx, "hinted")
	require.NoError(t, err)
	assert.Equal(t, 5, record.RequiredReplicas)

	record, err = c.Status(ctx, "zero")
	require.NoError(t, err)
	assert.Equal(t, 0, record.RequiredReplicas)
	assert.True(t, record.IsComplete())

	all, err := c.All()
	require.NoError(t, err)
	assert.Len(t, all, 3, "each status call creates exactly one record")
}

func TestStatusReturnsExistingRecordWithoutOracle(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	ctx := context.Background()

	oracle.add("f1", nil)
	_, err := c.Status(ctx, "f1")
	require.NoError(t, err)
	_, err = c.Assign("f1", "a")
	require.NoError(t, err)

	oracle.remove("f1")
	calls := oracle.calls

	record, err := c.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, record.AssignedNodes)
	assert.Equal(t, calls, oracle.calls, "an existing record must not consult the oracle")
}

func TestStatusUnknownFile(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	_, err := c.Status(context.Background(), "ghost")

	var nf *models.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "file", nf.Kind)
	assert.Equal(t, "ghost", nf.ID)
}

func TestOracleFailureReportedAsNotFound(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	oracle.add("f1", nil)
	oracle.err = errors.New("blob store unreachable")

	_, err := c.Status(context.Background(), "f1")
	assert.Equal(t, models.StatusNotFound, models.StatusFor(err))

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all, "no record is created when the oracle fails")
}

func TestAssignRequiresRecord(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	_, err := c.Assign("ghost", "a")
	assert.Equal(t, models.StatusNotFound, models.StatusFor(err))

	_, err = c.Complete("ghost")
	assert.Equal(t, models.StatusNotFound, models.StatusFor(err))

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all, "assign and complete never create records")
}

func TestAssignIsIdempotent(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	oracle.add("f1", nil)
	_, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)

	res, err := c.Assign("f1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAssigned, res.Outcome)

	res, err = c.Assign("f1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyAssigned, res.Outcome)
	assert.Equal(t, []string{"a"}, res.Record.AssignedNodes)
}

func TestAssignBeyondRequiredIsAllowed(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	oracle.add("f1", hint(1))
	_, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)

	for _, node := range []string{"a", "b", "c"} {
		res, err := c.Assign("f1", node)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAssigned, res.Outcome)
	}

	record, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, record.AssignedNodes)
}

func TestReplicationLifecycle(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	ctx := context.Background()
	oracle.add("f1", hint(2))

	_, err := c.Status(ctx, "f1")
	require.NoError(t, err)

	_, err = c.Assign("f1", "a")
	require.NoError(t, err)
	_, err = c.Assign("f1", "b")
	require.NoError(t, err)

	res, err := c.Complete("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCountUpdated, res.Outcome)

	res, err = c.Complete("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReplicasCompleted, res.Outcome)

	res, err = c.Complete("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeReplicasCompleted, res.Outcome)
	assert.Equal(t, 3, res.Record.CompletedReplicas)

	record, err := c.Status(ctx, "f1")
	require.NoError(t, err, "reaching the target must not delete the record")
	assert.Equal(t, 3, record.CompletedReplicas)
}

func TestLockUnlock(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)

	res, err := c.Lock("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLocked, res.Outcome)
	assert.Equal(t, 1, res.Record.LockCount)
	assert.Equal(t, models.DefaultRequiredReplicas, res.Record.RequiredReplicas, "lock scaffolds a record")

	res, err = c.Lock("f1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Record.LockCount)

	res, err = c.Unlock("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeStillLocked, res.Outcome)
	assert.Equal(t, 1, res.Record.LockCount)

	res, err = c.Unlock("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnlocked, res.Outcome)
	assert.Equal(t, 0, res.Record.LockCount)

	res, err = c.Unlock("f1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotLocked, res.Outcome)
	assert.Equal(t, 0, res.Record.LockCount)

	record, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.LockCount)
}

func TestUnlockUnknownFileWritesNothing(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	res, err := c.Unlock("ghost")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotLocked, res.Outcome)
	assert.Nil(t, res.Record, "no record is reported for a file that doesn't exist")

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDelete(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	ctx := context.Background()
	oracle.add("f1", nil)

	_, err := c.Status(ctx, "f1")
	require.NoError(t, err)

	require.NoError(t, c.Delete("f1"))
	require.NoError(t, c.Delete("f1"), "delete is idempotent")

	oracle.remove("f1")
	_, err = c.Status(ctx, "f1")
	assert.Equal(t, models.StatusNotFound, models.StatusFor(err))
}

func TestDeleteThenStatusRecreates(t *testing.T) {
	c, oracle := newTestCoordinator(t, 1)
	ctx := context.Background()
	oracle.add("f1", nil)

	_, err := c.Status(ctx, "f1")
	require.NoError(t, err)
	_, err = c.Complete("f1")
	require.NoError(t, err)
	require.NoError(t, c.Delete("f1"))

	record, err := c.Status(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.CompletedReplicas)
}

func TestValidation(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["assign file"] = c.Assign("", "a")
	_, checks["assign node"] = c.Assign("f1", " ")
	_, checks["complete"] = c.Complete("")
	_, checks["status"] = c.Status(ctx, "")
	_, checks["lock"] = c.Lock("")
	_, checks["unlock"] = c.Unlock("")
	checks["delete"] = c.Delete("")
	_, checks["lock dot"] = c.Lock(".")
	_, checks["lock dotdot"] = c.Lock("..")
	_, checks["assign dotdot node"] = c.Assign("f1", "..")
	_, checks["status dotdot"] = c.Status(ctx, "..")
	checks["delete dotdot"] = c.Delete("..")

	for name, err := range checks {
		assert.Equal(t, models.StatusBadRequest, models.StatusFor(err), name)
	}

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOlderRecordsWithoutOptionalFields(t *testing.T) {
	db := newTestDB(t)
	shards := newShards(db, 1)
	require.NoError(t, shards[0].Set("legacy", `{"requiredReplicas":3,"completedReplicas":1}`))

	c, err := New(Config{Logger: testLogger(), Shards: shards, Oracle: newFakeOracle()})
	require.NoError(t, err)

	record, err := c.Status(context.Background(), "legacy")
	require.NoError(t, err)
	want := models.FileRecord{FileID: "legacy", RequiredReplicas: 3, AssignedNodes: []string{}, CompletedReplicas: 1}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Errorf("legacy record mismatch (-want +got):\n%s", diff)
	}

	res, err := c.Assign("legacy", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Record.AssignedNodes)
}

func TestCorruptRecordIsInternalError(t *testing.T) {
	db := newTestDB(t)
	shards := newShards(db, 1)
	require.NoError(t, shards[0].Set("bad", `{"lockCount":`))

	c, err := New(Config{Logger: testLogger(), Shards: shards, Oracle: newFakeOracle()})
	require.NoError(t, err)

	_, err = c.Lock("bad")
	assert.Equal(t, models.StatusInternalError, models.StatusFor(err))
	_, err = c.All()
	assert.Equal(t, models.StatusInternalError, models.StatusFor(err))
}

func TestStorageFailures(t *testing.T) {
	boom := errors.New("disk on fire")
	oracle := newFakeOracle()
	oracle.add("f1", nil)
	c, err := New(Config{Logger: testLogger(), Shards: []Store{&failingStore{err: boom}}, Oracle: oracle})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Status(ctx, "f1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusInternalError, models.StatusFor(err))

	_, err = c.Assign("f1", "a")
	assert.ErrorIs(t, err, boom)
	_, err = c.Complete("f1")
	assert.ErrorIs(t, err, boom)
	_, err = c.Lock("f1")
	assert.ErrorIs(t, err, boom)
	_, err = c.Unlock("f1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, c.Delete("f1"), boom)
	_, err = c.All()
	assert.ErrorIs(t, err, boom)
}

func TestFailedWriteLeavesNoPartialState(t *testing.T) {
	boom := errors.New("read only")
	db := newTestDB(t)
	healthy := tkv.NewPartition(db, ShardPrefix(0))
	require.NoError(t, healthy.Set("f1", `{"fileId":"f1","requiredReplicas":2,"assignedNodes":["a"],"completedReplicas":1,"lockCount":1}`))

	oracle := newFakeOracle()
	c, err := New(Config{Logger: testLogger(), Shards: []Store{&setFailStore{Store: healthy, err: boom}}, Oracle: oracle})
	require.NoError(t, err)

	_, err = c.Assign("f1", "b")
	assert.Equal(t, models.StatusInternalError, models.StatusFor(err))
	_, err = c.Complete("f1")
	assert.ErrorIs(t, err, boom)
	_, err = c.Unlock("f1")
	assert.ErrorIs(t, err, boom)

	record, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, record.AssignedNodes)
	assert.Equal(t, 1, record.CompletedReplicas)
	assert.Equal(t, 1, record.LockCount)
}

func TestConcurrentCompletions(t *testing.T) {
	c, oracle := newTestCoordinator(t, 4)
	oracle.add("f1", hint(3))
	_, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := c.Complete("f1")
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			_, err := c.Assign("f1", fmt.Sprintf("node-%d", i%5))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := c.Lock("f1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	record, err := c.Status(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, workers, record.CompletedReplicas)
	assert.Equal(t, workers, record.LockCount)
	assert.ElementsMatch(t, []string{"node-0", "node-1", "node-2", "node-3", "node-4"}, record.AssignedNodes)
}

func TestShardingSpreadsFiles(t *testing.T) {
	db := newTestDB(t)
	shards := newShards(db, 4)
	oracle := newFakeOracle()
	c, err := New(Config{Logger: testLogger(), Shards: shards, Oracle: oracle})
	require.NoError(t, err)
	assert.Equal(t, 4, c.ShardCount())

	for i := 0; i < 40; i++ {
		_, err := c.Lock(fmt.Sprintf("file-%d", i))
		require.NoError(t, err)
	}

	used := 0
	for i, shard := range shards {
		entries, err := shard.List()
		require.NoError(t, err)
		for _, entry := range entries {
			assert.Equal(t, i, ShardFor(entry.Key, 4), "record %s stored in the wrong shard", entry.Key)
		}
		if len(entries) > 0 {
			used++
		}
	}
	assert.Greater(t, used, 1)

	all, err := c.All()
	require.NoError(t, err)
	assert.Len(t, all, 40)
}

func TestShardForIsStable(t *testing.T) {
	for _, id := range []string{"", "a", "file-1", "dir/with/slashes"} {
		first := ShardFor(id, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		assert.Equal(t, first, ShardFor(id, 8))
		assert.Equal(t, 0, ShardFor(id, 1))
	}
}
