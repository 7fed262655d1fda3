package service

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lyzr/plugin-registry/cmd/registry/models"
	"github.com/lyzr/plugin-registry/cmd/registry/validation"
	"github.com/lyzr/plugin-registry/common/auth"
	"github.com/lyzr/plugin-registry/common/cache"
	"github.com/lyzr/plugin-registry/common/logger"
	"github.com/lyzr/plugin-registry/common/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository is an in-memory Repository. Records are deep-copied on
// the way in and out so service-side mutation cannot leak into storage.
type fakeRepository struct {
	records map[string]*models.PluginInfo
	updates int
	creates int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{records: make(map[string]*models.PluginInfo)}
}

func copyRecord(p *models.PluginInfo) *models.PluginInfo {
	data, _ := json.Marshal(p)
	out := &models.PluginInfo{}
	_ = json.Unmarshal(data, out)
	return out
}

func (r *fakeRepository) All(ctx context.Context) ([]*models.PluginInfo, error) {
	var all []*models.PluginInfo
	for _, p := range r.records {
		all = append(all, copyRecord(p))
	}
	return all, nil
}

func (r *fakeRepository) GetByService(ctx context.Context, service string) ([]*models.PluginInfo, error) {
	var matched []*models.PluginInfo
	for _, p := range r.records {
		if p.Service == service {
			matched = append(matched, copyRecord(p))
		}
	}
	return matched, nil
}

func (r *fakeRepository) FindByID(ctx context.Context, id string) (*models.PluginInfo, error) {
	p, ok := r.records[id]
	if !ok {
		return nil, models.NewNotFoundError("plugin %s", id)
	}
	return copyRecord(p), nil
}

func (r *fakeRepository) Create(ctx context.Context, id string, p *models.PluginInfo) (*models.PluginInfo, error) {
	r.creates++
	stored := copyRecord(p)
	stored.CreatedTimestamp = time.Now()
	r.records[id] = stored
	return copyRecord(stored), nil
}

func (r *fakeRepository) Update(ctx context.Context, id string, p *models.PluginInfo) error {
	r.updates++
	if _, ok := r.records[id]; !ok {
		return models.NewNotFoundError("plugin %s", id)
	}
	r.records[id] = copyRecord(p)
	return nil
}

func (r *fakeRepository) Delete(ctx context.Context, id string) error {
	delete(r.records, id)
	return nil
}

// fakeBinaryStorage records stored blobs and deleted keys
type fakeBinaryStorage struct {
	blobs     map[string][]byte
	deleted   []string
	deleteErr error
}

func newFakeBinaryStorage() *fakeBinaryStorage {
	return &fakeBinaryStorage{blobs: make(map[string][]byte)}
}

func (s *fakeBinaryStorage) Key(pluginID, version string) string {
	return fmt.Sprintf("plugin-binaries/%s/%s.zip", pluginID, version)
}

func (s *fakeBinaryStorage) Store(ctx context.Context, pluginID, version string, data []byte) error {
	s.blobs[s.Key(pluginID, version)] = data
	return nil
}

func (s *fakeBinaryStorage) Get(ctx context.Context, pluginID, version string) ([]byte, error) {
	data, ok := s.blobs[s.Key(pluginID, version)]
	if !ok {
		return nil, errors.New("missing binary")
	}
	return data, nil
}

func (s *fakeBinaryStorage) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.blobs, key)
	return nil
}

// rejectingValidator rejects every record with a fixed code
type rejectingValidator struct {
	code string
}

func (v *rejectingValidator) Validate(pluginInfo *models.PluginInfo, errs *validation.Errors) {
	errs.Reject(v.code, "rejected by test validator")
}

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

func newTestService(repo *fakeRepository, opts ...Option) *PluginInfoService {
	return NewPluginInfoService(repo, nil, testLogger(), opts...)
}

func release(version string, preferred bool) models.Release {
	return models.Release{
		Version:   version,
		URL:       "https://example.com/plugin-" + version + ".zip",
		Preferred: preferred,
	}
}

func seedPlugin(repo *fakeRepository, id string, releases ...models.Release) {
	repo.records[id] = &models.PluginInfo{
		ID:       id,
		Service:  "orca",
		Releases: releases,
	}
}

func TestUpsert_CreatesWhenAbsent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	result, err := svc.Upsert(context.Background(), &models.PluginInfo{
		ID:       "armory.pA",
		Releases: []models.Release{release("1.0.0", true)},
	})
	require.NoError(t, err)

	// preferred is forced off on the unauthenticated upsert path
	assert.False(t, result.Releases[0].Preferred)

	stored, err := svc.FindByID(context.Background(), "armory.pA")
	require.NoError(t, err)
	assert.Equal(t, "armory.pA", stored.ID)
	require.Len(t, stored.Releases, 1)
	assert.Equal(t, "1.0.0", stored.Releases[0].Version)
}

func TestUpsert_MergesNewReleasesOnPresence(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pB", release("1.0.0", false))
	svc := newTestService(repo)

	result, err := svc.Upsert(context.Background(), &models.PluginInfo{
		ID:       "armory.pB",
		Releases: []models.Release{release("2.0.0", false)},
	})
	require.NoError(t, err)

	// existing releases first, in stored order, then the new ones
	require.Len(t, result.Releases, 2)
	assert.Equal(t, "1.0.0", result.Releases[0].Version)
	assert.Equal(t, "2.0.0", result.Releases[1].Version)

	stored, err := svc.FindByID(context.Background(), "armory.pB")
	require.NoError(t, err)
	assert.Len(t, stored.Releases, 2)
}

func TestUpsert_RejectsExistingVersion(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pB", release("1.0.0", false))
	svc := newTestService(repo)

	_, err := svc.Upsert(context.Background(), &models.PluginInfo{
		ID:       "armory.pB",
		Releases: []models.Release{release("1.0.0", false)},
	})
	require.Error(t, err)
	assert.True(t, models.IsInvalidRequest(err))
	assert.Contains(t, err.Error(), "1.0.0")

	// stored state is untouched
	stored, err := svc.FindByID(context.Background(), "armory.pB")
	require.NoError(t, err)
	assert.Len(t, stored.Releases, 1)
	assert.Zero(t, repo.updates)
}

func TestUpsert_ValidationFailureAbortsBeforeWrite(t *testing.T) {
	repo := newFakeRepository()
	svc := NewPluginInfoService(repo,
		[]validation.Validator{&rejectingValidator{code: "test.reject"}},
		testLogger(),
	)

	_, err := svc.Upsert(context.Background(), &models.PluginInfo{
		ID:       "armory.pA",
		Releases: []models.Release{release("1.0.0", false)},
	})
	require.Error(t, err)

	var validationErr *validation.Error
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "test.reject", validationErr.Errors[0].Code)

	assert.Zero(t, repo.creates)
	assert.Zero(t, repo.updates)
}

func TestDelete_CascadesToReleaseBinaries(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pC", release("1.0.0", false), release("2.0.0", false))
	binaries := newFakeBinaryStorage()
	binaries.blobs[binaries.Key("armory.pC", "1.0.0")] = []byte("blob")
	svc := newTestService(repo, WithBinaryStorage(binaries))

	require.NoError(t, svc.Delete(context.Background(), "armory.pC"))

	_, err := svc.FindByID(context.Background(), "armory.pC")
	assert.True(t, models.IsNotFound(err))

	// every release binary was deleted individually
	assert.Contains(t, binaries.deleted, binaries.Key("armory.pC", "1.0.0"))
	assert.Contains(t, binaries.deleted, binaries.Key("armory.pC", "2.0.0"))
	assert.Empty(t, binaries.blobs)
}

func TestDelete_UnknownIDIsNoOp(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	assert.NoError(t, svc.Delete(context.Background(), "armory.missing"))
}

func TestDelete_BinaryFailureDoesNotBlockMetadata(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pC", release("1.0.0", false))
	binaries := newFakeBinaryStorage()
	binaries.deleteErr = errors.New("artifact store down")
	svc := newTestService(repo, WithBinaryStorage(binaries))

	require.NoError(t, svc.Delete(context.Background(), "armory.pC"))

	_, err := svc.FindByID(context.Background(), "armory.pC")
	assert.True(t, models.IsNotFound(err))
}

func TestCreateRelease_AppendsAndStampsActor(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pD", release("1.0.0", false))
	svc := newTestService(repo)

	ctx := auth.WithUser(context.Background(), "alice")
	result, err := svc.CreateRelease(ctx, "armory.pD", release("9.9.0", false))
	require.NoError(t, err)

	added, ok := result.GetRelease("9.9.0")
	require.True(t, ok)
	assert.Equal(t, "alice", added.LastModifiedBy)
	assert.False(t, added.LastModified.IsZero())
}

func TestCreateRelease_AnonymousWithoutIdentity(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pD")
	svc := newTestService(repo)

	result, err := svc.CreateRelease(context.Background(), "armory.pD", release("1.0.0", false))
	require.NoError(t, err)
	assert.Equal(t, "anonymous", result.Releases[0].LastModifiedBy)
}

func TestCreateRelease_UnknownPluginNotFound(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	_, err := svc.CreateRelease(context.Background(), "armory.missing", release("1.0.0", false))
	assert.True(t, models.IsNotFound(err))
}

func TestUpsertRelease_ReplacesExistingVersion(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pD", release("1.0.0", false))
	svc := newTestService(repo)

	replacement := release("1.0.0", false)
	replacement.Remarks = "rebuilt binary"

	result, err := svc.UpsertRelease(context.Background(), "armory.pD", replacement)
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)
	assert.Equal(t, "rebuilt binary", result.Releases[0].Remarks)
}

func TestUpsertRelease_UnknownVersionNotFound(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pD", release("1.0.0", false))
	svc := newTestService(repo)

	// upsertRelease never creates a brand-new version
	_, err := svc.UpsertRelease(context.Background(), "armory.pD", release("9.9.0", false))
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Contains(t, err.Error(), "9.9.0")

	// the same state accepts the version through createRelease
	result, err := svc.CreateRelease(context.Background(), "armory.pD", release("9.9.0", false))
	require.NoError(t, err)
	_, ok := result.GetRelease("9.9.0")
	assert.True(t, ok)
}

func TestDeleteRelease_RemovesVersionAndBinary(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pC", release("1.0.0", false), release("2.0.0", false))
	binaries := newFakeBinaryStorage()
	svc := newTestService(repo, WithBinaryStorage(binaries))

	result, err := svc.DeleteRelease(context.Background(), "armory.pC", "1.0.0")
	require.NoError(t, err)
	require.Len(t, result.Releases, 1)
	assert.Equal(t, "2.0.0", result.Releases[0].Version)
	assert.Contains(t, binaries.deleted, binaries.Key("armory.pC", "1.0.0"))
}

func TestDeleteRelease_PersistsEvenWithoutMatch(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pC", release("1.0.0", false))
	svc := newTestService(repo)

	result, err := svc.DeleteRelease(context.Background(), "armory.pC", "3.0.0")
	require.NoError(t, err)
	assert.Len(t, result.Releases, 1)
	assert.Equal(t, 1, repo.updates)
}

func TestPreferReleaseVersion_TransfersPreference(t *testing.T) {
	repo := newFakeRepository()
	old := release("1.0.0", true)
	old.LastModifiedBy = "bob"
	seedPlugin(repo, "armory.pE", old, release("2.0.0", false))
	svc := newTestService(repo)

	ctx := auth.WithUser(context.Background(), "alice")
	result, err := svc.PreferReleaseVersion(ctx, "armory.pE", "2.0.0", true)
	require.NoError(t, err)
	assert.True(t, result.Preferred)
	assert.Equal(t, "alice", result.LastModifiedBy)

	stored, err := svc.FindByID(context.Background(), "armory.pE")
	require.NoError(t, err)

	first, _ := stored.GetRelease("1.0.0")
	second, _ := stored.GetRelease("2.0.0")
	assert.False(t, first.Preferred)
	assert.True(t, second.Preferred)

	// both releases carry the operation's audit stamp
	assert.Equal(t, "alice", first.LastModifiedBy)
	assert.Equal(t, "alice", second.LastModifiedBy)
	assert.False(t, first.LastModified.IsZero())
}

func TestPreferReleaseVersion_UnpreferTouchesNoSiblings(t *testing.T) {
	repo := newFakeRepository()
	sibling := release("1.0.0", false)
	sibling.LastModifiedBy = "bob"
	seedPlugin(repo, "armory.pE", sibling, release("2.0.0", true))
	svc := newTestService(repo)

	_, err := svc.PreferReleaseVersion(context.Background(), "armory.pE", "2.0.0", false)
	require.NoError(t, err)

	stored, err := svc.FindByID(context.Background(), "armory.pE")
	require.NoError(t, err)
	first, _ := stored.GetRelease("1.0.0")
	assert.Equal(t, "bob", first.LastModifiedBy)
}

func TestPreferReleaseVersion_UnknownVersionNotFound(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pE", release("1.0.0", false))
	svc := newTestService(repo)

	_, err := svc.PreferReleaseVersion(context.Background(), "armory.pE", "9.9.9", true)
	assert.True(t, models.IsNotFound(err))
}

func TestPreferredExclusivityAcrossMutations(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pF")
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateRelease(ctx, "armory.pF", release("1.0.0", true))
	require.NoError(t, err)
	_, err = svc.CreateRelease(ctx, "armory.pF", release("2.0.0", true))
	require.NoError(t, err)
	_, err = svc.CreateRelease(ctx, "armory.pF", release("3.0.0", false))
	require.NoError(t, err)
	_, err = svc.PreferReleaseVersion(ctx, "armory.pF", "1.0.0", true)
	require.NoError(t, err)
	_, err = svc.DeleteRelease(ctx, "armory.pF", "2.0.0")
	require.NoError(t, err)

	stored, err := svc.FindByID(ctx, "armory.pF")
	require.NoError(t, err)

	preferredCount := 0
	for _, r := range stored.Releases {
		if r.Preferred {
			preferredCount++
		}
	}
	assert.Equal(t, 1, preferredCount)

	preferred, ok := stored.PreferredRelease()
	require.True(t, ok)
	assert.Equal(t, "1.0.0", preferred.Version)
}

func TestFindAllByService(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pA")
	svc := newTestService(repo)

	_, err := svc.FindAllByService(context.Background(), "")
	assert.True(t, models.IsInvalidRequest(err))

	matched, err := svc.FindAllByService(context.Background(), "orca")
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestStoreBinary_VerifiesDigest(t *testing.T) {
	repo := newFakeRepository()
	data := []byte("plugin binary payload")
	digest := sha512.Sum512(data)

	r := release("1.0.0", false)
	r.Sha512Sum = hex.EncodeToString(digest[:])
	seedPlugin(repo, "armory.pG", r)

	binaries := newFakeBinaryStorage()
	svc := newTestService(repo, WithBinaryStorage(binaries))
	ctx := context.Background()

	err := svc.StoreBinary(ctx, "armory.pG", "1.0.0", []byte("tampered"))
	require.Error(t, err)
	assert.True(t, models.IsInvalidRequest(err))
	assert.Empty(t, binaries.blobs)

	require.NoError(t, svc.StoreBinary(ctx, "armory.pG", "1.0.0", data))

	stored, err := svc.GetBinary(ctx, "armory.pG", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestFindByID_CachesUntilMutation(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pI", release("1.0.0", false), release("2.0.0", false))
	svc := newTestService(repo, WithCache(cache.NewMemoryCache(testLogger()), time.Minute))
	ctx := context.Background()

	first, err := svc.FindByID(ctx, "armory.pI")
	require.NoError(t, err)
	require.Len(t, first.Releases, 2)

	// a write bypassing the service is not visible while cached
	repo.records["armory.pI"].Description = "changed behind the cache"
	cached, err := svc.FindByID(ctx, "armory.pI")
	require.NoError(t, err)
	assert.Empty(t, cached.Description)

	// any mutation through the service invalidates the entry
	_, err = svc.DeleteRelease(ctx, "armory.pI", "2.0.0")
	require.NoError(t, err)

	fresh, err := svc.FindByID(ctx, "armory.pI")
	require.NoError(t, err)
	assert.Len(t, fresh.Releases, 1)
}

// fakeQueue captures published messages
type fakeQueue struct {
	published []models.PluginEvent
}

func (q *fakeQueue) Publish(ctx context.Context, topic, key string, message []byte) error {
	event := models.PluginEvent{}
	if err := json.Unmarshal(message, &event); err != nil {
		return err
	}
	q.published = append(q.published, event)
	return nil
}

func (q *fakeQueue) Subscribe(ctx context.Context, topic string, handler queue.MessageHandler) error {
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func TestMutationsPublishEvents(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pH", release("1.0.0", false))
	events := &fakeQueue{}
	svc := newTestService(repo, WithEventQueue(events, "plugin-events"))
	ctx := auth.WithUser(context.Background(), "alice")

	_, err := svc.CreateRelease(ctx, "armory.pH", release("2.0.0", false))
	require.NoError(t, err)
	_, err = svc.PreferReleaseVersion(ctx, "armory.pH", "2.0.0", true)
	require.NoError(t, err)

	require.Len(t, events.published, 2)
	assert.Equal(t, models.EventReleaseCreated, events.published[0].Type)
	assert.Equal(t, models.EventReleasePreferred, events.published[1].Type)
	assert.Equal(t, "alice", events.published[1].Actor)
	assert.Equal(t, "2.0.0", events.published[1].Version)
}

func TestStoreBinary_WithoutStorageConfigured(t *testing.T) {
	repo := newFakeRepository()
	seedPlugin(repo, "armory.pG", release("1.0.0", false))
	svc := newTestService(repo)

	err := svc.StoreBinary(context.Background(), "armory.pG", "1.0.0", []byte("x"))
	assert.True(t, models.IsInvalidRequest(err))
}
