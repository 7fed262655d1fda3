package container

import (
	"fmt"
	"os"

	"github.com/lyzr/plugin-registry/cmd/registry/repository"
	"github.com/lyzr/plugin-registry/cmd/registry/service"
	"github.com/lyzr/plugin-registry/cmd/registry/storage"
	"github.com/lyzr/plugin-registry/cmd/registry/validation"
	"github.com/lyzr/plugin-registry/common/bootstrap"
	rediscommon "github.com/lyzr/plugin-registry/common/redis"
	"github.com/redis/go-redis/v9"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components
	Redis      *rediscommon.Client

	// Repositories
	PluginInfoRepo *repository.PluginInfoRepository

	// Capabilities
	BinaryStorage storage.BinaryStorage
	Validators    []validation.Validator

	// Services
	PluginInfoService *service.PluginInfoService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	pluginInfoRepo := repository.NewPluginInfoRepository(components.DB)

	validators, err := buildValidators()
	if err != nil {
		return nil, fmt.Errorf("failed to build validators: %w", err)
	}

	opts := []service.Option{}

	var redisClient *rediscommon.Client
	var binaryStorage storage.BinaryStorage
	if cfg.Binary.Enabled {
		raw := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisClient = rediscommon.NewClient(raw, components.Logger)
		binaryStorage = storage.NewRedisBinaryStorage(redisClient, cfg.Binary.KeyPrefix, components.Logger)
		opts = append(opts, service.WithBinaryStorage(binaryStorage))
	}

	if components.Queue != nil {
		opts = append(opts, service.WithEventQueue(components.Queue, cfg.Queue.Topic))
	}

	if components.Cache != nil {
		opts = append(opts, service.WithCache(components.Cache, cfg.Cache.DefaultTTL))
	}

	pluginInfoService := service.NewPluginInfoService(
		pluginInfoRepo,
		validators,
		components.Logger,
		opts...,
	)

	return &Container{
		Components:        components,
		Redis:             redisClient,
		PluginInfoRepo:    pluginInfoRepo,
		BinaryStorage:     binaryStorage,
		Validators:        validators,
		PluginInfoService: pluginInfoService,
	}, nil
}

// buildValidators assembles the validation pipeline. The CEL rule is
// operator-supplied; an empty PLUGIN_VALIDATION_RULE skips it.
func buildValidators() ([]validation.Validator, error) {
	validators := []validation.Validator{
		validation.NewIDFormatValidator(),
		validation.NewReleaseVersionValidator(),
	}

	if rule := os.Getenv("PLUGIN_VALIDATION_RULE"); rule != "" {
		exprValidator, err := validation.NewExprValidator(rule)
		if err != nil {
			return nil, fmt.Errorf("invalid PLUGIN_VALIDATION_RULE: %w", err)
		}
		validators = append(validators, exprValidator)
	}

	return validators, nil
}
