package handlers

import (
	"golang.org/x/time/rate"

	"media-server/internal/database"
	"media-server/internal/hls"
	"media-server/internal/indexer"
	"media-server/internal/media"
	"media-server/internal/startup"
)

type Handlers struct {
	db           *database.Database
	engine       *hls.Engine
	indexer      *indexer.Indexer
	thumbGen     *media.ThumbnailGenerator
	mediaDir     string
	transcoding  bool
	loginLimiter *rate.Limiter
}

func New(db *database.Database, engine *hls.Engine, idx *indexer.Indexer, thumbGen *media.ThumbnailGenerator, config *startup.Config) *Handlers {
	return &Handlers{
		db:          db,
		engine:      engine,
		indexer:     idx,
		thumbGen:    thumbGen,
		mediaDir:    config.MediaDir,
		transcoding: config.TranscodingEnabled,
		// 5 login attempts, refilling one per 2 seconds.
		loginLimiter: rate.NewLimiter(rate.Limit(0.5), 5),
	}
}
