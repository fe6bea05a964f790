package commands

import (
	"context"

	"autoprice/config"
	"autoprice/objectstore"
	"autoprice/utils"
)

// openMirror returns nil when the mirror cannot be set up; the run then works
// on local files only.
func openMirror(ctx context.Context, cfg *config.Config, logger *utils.Logger) *objectstore.S3 {
	storeCfg, err := cfg.ObjectStore()
	if err != nil {
		logger.Error("[objectstore] %v", err)
		return nil
	}
	mirror, err := objectstore.New(ctx, storeCfg, logger)
	if err != nil {
		logger.Error("[objectstore] %v", err)
		return nil
	}
	return mirror
}

func (e *env) download(ctx context.Context, keys ...utils.DateKey) {
	if e.mirror == nil {
		return
	}
	for _, key := range keys {
		if _, err := e.mirror.Download(ctx, e.cfg.Output.Directory, key); err != nil {
			e.logger.Error("[objectstore] Download %s: %v", key, err)
		}
	}
}

func (e *env) upload(ctx context.Context, key utils.DateKey) {
	if e.mirror == nil {
		return
	}
	if _, err := e.mirror.Upload(ctx, e.cfg.Output.Directory, key); err != nil {
		e.logger.Error("[objectstore] Upload %s: %v", key, err)
	}
}
