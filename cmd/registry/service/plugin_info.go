package service

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/plugin-registry/cmd/registry/models"
	"github.com/lyzr/plugin-registry/cmd/registry/storage"
	"github.com/lyzr/plugin-registry/cmd/registry/validation"
	"github.com/lyzr/plugin-registry/common/auth"
	"github.com/lyzr/plugin-registry/common/cache"
	"github.com/lyzr/plugin-registry/common/logger"
	"github.com/lyzr/plugin-registry/common/queue"
)

// Repository is the durable keyed storage capability for plugin records
type Repository interface {
	All(ctx context.Context) ([]*models.PluginInfo, error)
	GetByService(ctx context.Context, service string) ([]*models.PluginInfo, error)
	FindByID(ctx context.Context, id string) (*models.PluginInfo, error)
	Create(ctx context.Context, id string, pluginInfo *models.PluginInfo) (*models.PluginInfo, error)
	Update(ctx context.Context, id string, pluginInfo *models.PluginInfo) error
	Delete(ctx context.Context, id string) error
}

// PluginInfoService orchestrates the plugin release lifecycle: reads,
// upsert merging, release add/replace/delete, the exclusive preferred
// release invariant, audit stamping and the validation pipeline.
//
// Each operation is a synchronous read-modify-write against the
// repository; correctness under concurrent callers targeting the same
// plugin id is delegated to the repository.
type PluginInfoService struct {
	repo       Repository
	binaries   storage.BinaryStorage
	validators []validation.Validator
	events     queue.Queue
	eventTopic string
	cache      cache.Cache
	cacheTTL   time.Duration
	log        *logger.Logger
}

// Option configures optional collaborators of the service
type Option func(*PluginInfoService)

// WithBinaryStorage attaches the release binary store. Without it the
// service runs metadata-only and binary cleanup is skipped.
func WithBinaryStorage(binaries storage.BinaryStorage) Option {
	return func(s *PluginInfoService) {
		s.binaries = binaries
	}
}

// WithEventQueue attaches the plugin event stream
func WithEventQueue(events queue.Queue, topic string) Option {
	return func(s *PluginInfoService) {
		s.events = events
		s.eventTopic = topic
	}
}

// WithCache attaches a read cache for FindByID
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *PluginInfoService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// NewPluginInfoService creates a new plugin info service. Validators run
// in registration order on every persisting operation.
func NewPluginInfoService(repo Repository, validators []validation.Validator, log *logger.Logger, opts ...Option) *PluginInfoService {
	s := &PluginInfoService{
		repo:       repo,
		validators: validators,
		log:        log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// FindAll returns all plugin records, in repository order
func (s *PluginInfoService) FindAll(ctx context.Context) ([]*models.PluginInfo, error) {
	return s.repo.All(ctx)
}

// FindAllByService returns plugin records tagged with the given service
func (s *PluginInfoService) FindAllByService(ctx context.Context, service string) ([]*models.PluginInfo, error) {
	if service == "" {
		return nil, models.NewInvalidRequestError("service is required")
	}
	return s.repo.GetByService(ctx, service)
}

// FindByID returns a single plugin record, consulting the read cache first
func (s *PluginInfoService) FindByID(ctx context.Context, id string) (*models.PluginInfo, error) {
	if cached, ok := s.cachedPlugin(ctx, id); ok {
		return cached, nil
	}

	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePlugin(ctx, pluginInfo)
	return pluginInfo, nil
}

// Upsert creates the record when the id is unknown, otherwise merges the
// candidate's releases into the stored record. The merge is append-only:
// a candidate release whose version is already stored fails the whole
// operation, because upsert is an unauthenticated surface and must never
// overwrite published release history. For the same reason every candidate
// release is forced to preferred=false; preference changes go through
// PreferReleaseVersion.
func (s *PluginInfoService) Upsert(ctx context.Context, pluginInfo *models.PluginInfo) (*models.PluginInfo, error) {
	for i := range pluginInfo.Releases {
		pluginInfo.Releases[i].Preferred = false
	}

	current, err := s.repo.FindByID(ctx, pluginInfo.ID)
	if err != nil {
		if !models.IsNotFound(err) {
			return nil, err
		}

		if err := s.validate(pluginInfo); err != nil {
			return nil, err
		}

		created, err := s.repo.Create(ctx, pluginInfo.ID, pluginInfo)
		if err != nil {
			return nil, err
		}

		s.log.Info("created plugin", "plugin_id", created.ID, "releases", len(created.Releases))
		s.publish(ctx, models.NewPluginEvent(models.EventPluginCreated, created.ID, "", auth.UserOrAnonymous(ctx)))
		return created, nil
	}

	for _, release := range pluginInfo.Releases {
		if _, exists := current.GetRelease(release.Version); exists {
			return nil, models.NewInvalidRequestError(
				"cannot update an existing release: %s", release.Version)
		}
	}

	// Existing releases stay first, in stored order
	merged := make([]models.Release, 0, len(current.Releases)+len(pluginInfo.Releases))
	merged = append(merged, current.Releases...)
	merged = append(merged, pluginInfo.Releases...)
	pluginInfo.Releases = merged

	if err := s.validate(pluginInfo); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, pluginInfo.ID, pluginInfo); err != nil {
		return nil, err
	}

	s.invalidate(ctx, pluginInfo.ID)
	s.log.Info("upserted plugin", "plugin_id", pluginInfo.ID, "releases", len(pluginInfo.Releases))
	s.publish(ctx, models.NewPluginEvent(models.EventPluginUpdated, pluginInfo.ID, "", auth.UserOrAnonymous(ctx)))
	return pluginInfo, nil
}

// Delete removes a plugin record and everything it owns. Each release is
// deleted individually so its binary is cleaned up. Deleting an unknown
// id is a no-op.
func (s *PluginInfoService) Delete(ctx context.Context, id string) error {
	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if models.IsNotFound(err) {
			return nil
		}
		return err
	}

	for _, release := range pluginInfo.Releases {
		if _, err := s.DeleteRelease(ctx, id, release.Version); err != nil {
			return fmt.Errorf("failed to delete release %s: %w", release.Version, err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.log.Info("deleted plugin", "plugin_id", id)
	s.publish(ctx, models.NewPluginEvent(models.EventPluginDeleted, id, "", auth.UserOrAnonymous(ctx)))
	return nil
}

// CreateRelease appends a brand-new release to an existing plugin record
func (s *PluginInfoService) CreateRelease(ctx context.Context, id string, release models.Release) (*models.PluginInfo, error) {
	actor := auth.UserOrAnonymous(ctx)
	now := time.Now()
	release.LastModifiedBy = actor
	release.LastModified = now

	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	pluginInfo.Releases = append(pluginInfo.Releases, release)
	s.cleanupPreferredReleases(pluginInfo, release, actor, now)

	if err := s.validate(pluginInfo); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, pluginInfo.ID, pluginInfo); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.log.Info("created release", "plugin_id", id, "version", release.Version, "actor", actor)
	s.publish(ctx, models.NewPluginEvent(models.EventReleaseCreated, id, release.Version, actor))
	return pluginInfo, nil
}

// UpsertRelease replaces an existing release. This is the authorized
// replace path; a version not already present fails with NotFound —
// use CreateRelease for brand-new versions.
func (s *PluginInfoService) UpsertRelease(ctx context.Context, id string, release models.Release) (*models.PluginInfo, error) {
	actor := auth.UserOrAnonymous(ctx)
	now := time.Now()
	release.LastModifiedBy = actor
	release.LastModified = now

	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, exists := pluginInfo.GetRelease(release.Version); !exists {
		return nil, models.NewNotFoundError(
			"plugin %s with release version %s", id, release.Version)
	}

	pluginInfo.Releases = removeRelease(pluginInfo.Releases, release.Version)
	pluginInfo.Releases = append(pluginInfo.Releases, release)
	s.cleanupPreferredReleases(pluginInfo, release, actor, now)

	if err := s.validate(pluginInfo); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, pluginInfo.ID, pluginInfo); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.log.Info("replaced release", "plugin_id", id, "version", release.Version, "actor", actor)
	s.publish(ctx, models.NewPluginEvent(models.EventReleaseReplaced, id, release.Version, actor))
	return pluginInfo, nil
}

// DeleteRelease removes a release and its binary. The metadata update is
// persisted whether or not a matching version was found; the binary
// deletion is best-effort and never blocks the metadata change.
func (s *PluginInfoService) DeleteRelease(ctx context.Context, id string, version string) (*models.PluginInfo, error) {
	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	pluginInfo.Releases = removeRelease(pluginInfo.Releases, version)

	if err := s.repo.Update(ctx, pluginInfo.ID, pluginInfo); err != nil {
		return nil, err
	}

	if s.binaries != nil {
		key := s.binaries.Key(id, version)
		if err := s.binaries.Delete(ctx, key); err != nil {
			// Metadata cleanup must not be blocked by artifact store
			// outages; the orphaned key is logged for reconciliation.
			s.log.Warn("release binary cleanup failed",
				"plugin_id", id,
				"version", version,
				"key", key,
				"error", err,
			)
		}
	}

	s.invalidate(ctx, id)
	s.log.Info("deleted release", "plugin_id", id, "version", version)
	s.publish(ctx, models.NewPluginEvent(models.EventReleaseDeleted, id, version, auth.UserOrAnonymous(ctx)))
	return pluginInfo, nil
}

// PreferReleaseVersion sets the preferred flag on a release. When a
// release becomes preferred, every sibling is eagerly forced to
// preferred=false with the same audit stamp. An unknown version fails
// with NotFound, consistent with every other lookup here.
func (s *PluginInfoService) PreferReleaseVersion(ctx context.Context, id string, version string, preferred bool) (*models.Release, error) {
	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	release, exists := pluginInfo.GetRelease(version)
	if !exists {
		return nil, models.NewNotFoundError(
			"plugin %s with release version %s", id, version)
	}

	actor := auth.UserOrAnonymous(ctx)
	now := time.Now()

	release.Preferred = preferred
	release.LastModified = now
	release.LastModifiedBy = actor

	s.cleanupPreferredReleases(pluginInfo, *release, actor, now)

	if err := s.repo.Update(ctx, pluginInfo.ID, pluginInfo); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.log.Info("set preferred release",
		"plugin_id", id,
		"version", version,
		"preferred", preferred,
		"actor", actor,
	)
	s.publish(ctx, models.NewPluginEvent(models.EventReleasePreferred, id, version, actor))

	result := *release
	return &result, nil
}

// StoreBinary persists a release binary after verifying the release
// exists and the payload matches its published SHA-512 digest
func (s *PluginInfoService) StoreBinary(ctx context.Context, id string, version string, data []byte) error {
	if s.binaries == nil {
		return models.NewInvalidRequestError("binary storage is not configured")
	}

	pluginInfo, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	release, exists := pluginInfo.GetRelease(version)
	if !exists {
		return models.NewNotFoundError("plugin %s with release version %s", id, version)
	}

	if release.Sha512Sum != "" {
		digest := sha512.Sum512(data)
		if hex.EncodeToString(digest[:]) != release.Sha512Sum {
			return models.NewInvalidRequestError(
				"binary digest does not match release %s sha512sum", version)
		}
	}

	return s.binaries.Store(ctx, id, version, data)
}

// GetBinary retrieves a stored release binary
func (s *PluginInfoService) GetBinary(ctx context.Context, id string, version string) ([]byte, error) {
	if s.binaries == nil {
		return nil, models.NewInvalidRequestError("binary storage is not configured")
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}

	return s.binaries.Get(ctx, id, version)
}

// validate runs every registered validator in order and fails with the
// accumulated error set when any rejected the record
func (s *PluginInfoService) validate(pluginInfo *models.PluginInfo) error {
	errs := validation.NewErrors(pluginInfo)
	for _, v := range s.validators {
		v.Validate(pluginInfo, errs)
	}
	return errs.Err()
}

// cleanupPreferredReleases enforces the exclusive preferred release
// invariant: when the triggering release is preferred, every sibling is
// forced to preferred=false and restamped with the operation's actor and
// time. A non-preferred trigger touches nothing.
func (s *PluginInfoService) cleanupPreferredReleases(pluginInfo *models.PluginInfo, release models.Release, actor string, now time.Time) {
	if !release.Preferred {
		return
	}

	for i := range pluginInfo.Releases {
		if pluginInfo.Releases[i].Version == release.Version {
			continue
		}
		pluginInfo.Releases[i].Preferred = false
		pluginInfo.Releases[i].LastModified = now
		pluginInfo.Releases[i].LastModifiedBy = actor
	}
}

// publish emits a lifecycle event; failures are logged, never fatal
func (s *PluginInfoService) publish(ctx context.Context, event *models.PluginEvent) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("failed to encode plugin event", "type", event.Type, "error", err)
		return
	}

	if err := s.events.Publish(ctx, s.eventTopic, event.PluginID, data); err != nil {
		s.log.Warn("failed to publish plugin event",
			"type", event.Type,
			"plugin_id", event.PluginID,
			"error", err,
		)
	}
}

// cachedPlugin reads a record from the cache, if one is attached
func (s *PluginInfoService) cachedPlugin(ctx context.Context, id string) (*models.PluginInfo, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, hit, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil || !hit {
		return nil, false
	}

	pluginInfo := &models.PluginInfo{}
	if err := json.Unmarshal(data, pluginInfo); err != nil {
		return nil, false
	}
	return pluginInfo, true
}

// cachePlugin stores a record in the cache, if one is attached
func (s *PluginInfoService) cachePlugin(ctx context.Context, pluginInfo *models.PluginInfo) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(pluginInfo)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(pluginInfo.ID), data, s.cacheTTL); err != nil {
		s.log.Debug("failed to cache plugin", "plugin_id", pluginInfo.ID, "error", err)
	}
}

// invalidate drops a record from the cache after a mutation
func (s *PluginInfoService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
		s.log.Debug("failed to invalidate cached plugin", "plugin_id", id, "error", err)
	}
}

func cacheKey(id string) string {
	return "plugin-info/" + id
}

// removeRelease filters out every release matching the given version.
// Version uniqueness makes the expected cardinality zero or one.
func removeRelease(releases []models.Release, version string) []models.Release {
	kept := releases[:0]
	for _, release := range releases {
		if release.Version != version {
			kept = append(kept, release)
		}
	}
	return kept
}
