package sheet

import (
	"context"
	"log/slog"
	"time"

	"catalogsync/internal/config"
)

// Reader downloads a sheet and extracts its candidates.
type Reader struct {
	fetcher Fetcher
	mapping []config.Mapping
	logger  *slog.Logger
}

func NewReader(fetcher Fetcher, mapping []config.Mapping, logger *slog.Logger) *Reader {
	return &Reader{
		fetcher: fetcher,
		mapping: mapping,
		logger:  logger,
	}
}

// Read normalises the URL, downloads it and parses the body.
func (r *Reader) Read(ctx context.Context, rawURL string) ([]Candidate, error) {
	exportURL := NormalizeURL(rawURL)
	r.logger.Info("fetching sheet", slog.String("url", exportURL))

	start := time.Now()
	body, err := r.fetcher.Fetch(ctx, exportURL)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("sheet downloaded",
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)),
	)

	return Parse(r.logger, body, r.mapping)
}
