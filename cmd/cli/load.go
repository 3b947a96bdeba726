package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	gateway "github.com/nimasrn/webhook-inbox/internal/gateways"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

// IngestFunc applies one raw payload and reports what it changed.
type IngestFunc func(ctx context.Context, raw []byte) (reconciler.Summary, error)

// LoadResult totals a directory replay.
type LoadResult struct {
	Files  int
	Failed []string
	reconciler.Summary
}

// LoadDir feeds every *.json file of dir, in name order, to ingest. A failing
// file is logged and skipped.
func LoadDir(ctx context.Context, dir string, ingest IngestFunc) (LoadResult, error) {
	var res LoadResult

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no payload files in %s", dir)
	}
	sort.Strings(files)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Files++

		raw, err := os.ReadFile(f)
		if err != nil {
			logger.Error("load: read failed", "file", f, "error", err)
			res.Failed = append(res.Failed, f)
			continue
		}
		s, err := ingest(ctx, raw)
		if err != nil {
			logger.Error("load: ingest failed", "file", f, "error", err)
			res.Failed = append(res.Failed, f)
			continue
		}
		res.Inserted += s.Inserted
		res.Updated += s.Updated
		res.NoMatch += s.NoMatch
		res.Ignored += s.Ignored
		logger.Info("load: payload applied", "file", filepath.Base(f), "inserted", s.Inserted, "updated", s.Updated, "no_match", s.NoMatch, "ignored", s.Ignored)
	}

	logger.Info("load: done", "files", res.Files, "failed", len(res.Failed), "inserted", res.Inserted, "updated", res.Updated, "no_match", res.NoMatch, "ignored", res.Ignored)
	return res, nil
}

// summaryFromResponse reads the summary a synchronous api instance returns.
// Queued deliveries carry none and count as empty.
func summaryFromResponse(resp *gateway.DeliveryResponse) (reconciler.Summary, error) {
	var body struct {
		Summary reconciler.Summary `json:"summary"`
	}
	if len(resp.Body) == 0 {
		return body.Summary, nil
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return reconciler.Summary{}, fmt.Errorf("decode response from %s: %w", resp.Target, err)
	}
	return body.Summary, nil
}
