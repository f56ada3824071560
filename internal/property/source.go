// Package property provides the read-only Property Source: the set of
// targets the scheduler validates in a run.
package property

import (
	"context"

	"go.uber.org/zap"

	"github.com/user/tagwatch/internal/model"
	"github.com/user/tagwatch/internal/security"
)

// Source is a read-only provider of active validation targets.
type Source interface {
	// ActiveProperties returns every property with isActive = true, in a
	// stable order (by id) so repeated runs enumerate the queue the same
	// way.
	ActiveProperties(ctx context.Context) ([]model.Property, error)
}

// PropertyRepo is the subset of internal/store's repository surface this
// package depends on, kept narrow so property stays independent of the
// datastore package's connection lifecycle.
type PropertyRepo interface {
	ListActive(ctx context.Context) ([]model.Property, error)
}

// RepoSource adapts a PropertyRepo into a Source, dropping any property
// whose target URL resolves to a private or reserved network range before
// it ever reaches the Browser Pool. Property rows come from an externally
// editable source (a spreadsheet or CMS field an operator can type into),
// so the browser's own navigation target needs the same SSRF guard the
// teacher's HTTP fetcher applied to a user-submitted render URL.
type RepoSource struct {
	repo   PropertyRepo
	logger *zap.Logger
}

// NewRepoSource builds a Source backed by the given repository.
func NewRepoSource(repo PropertyRepo, logger *zap.Logger) *RepoSource {
	return &RepoSource{repo: repo, logger: logger}
}

func (s *RepoSource) ActiveProperties(ctx context.Context) ([]model.Property, error) {
	all, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	safe := make([]model.Property, 0, len(all))
	for _, p := range all {
		if err := security.ValidateURL(p.TargetURL); err != nil {
			s.logger.Warn("property: dropping target with unsafe URL",
				zap.String("property_id", p.ID), zap.String("target_url", p.TargetURL), zap.Error(err))
			continue
		}
		safe = append(safe, p)
	}
	return safe, nil
}
