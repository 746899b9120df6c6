package rebuild

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"secmap/internal/ports"
)

var ErrUnknownUrl = errors.New("url not tracked")

// Service enqueues rebuild jobs. The scheduler that decides when to rebuild
// is external; this is the boundary it calls.
type Service struct {
	urls ports.UrlRepository
	orgs ports.OrganizationRepository
	jobs ports.JobRepository
}

func New(urls ports.UrlRepository, orgs ports.OrganizationRepository, jobs ports.JobRepository) *Service {
	return &Service{urls: urls, orgs: orgs, jobs: jobs}
}

// EnqueueOrganization queues one rebuild job for the organization.
func (s *Service) EnqueueOrganization(ctx context.Context, organizationID int64) (string, error) {
	return s.jobs.Enqueue(ctx, organizationID)
}

// EnqueueHostname reduces the raw URL to its registrable domain (eTLD+1) and
// queues a rebuild for every organization that URL belongs to. URL snapshots
// are organization-scoped rebuilds here: replaying one URL without its
// siblings would leave the organization roll-up stale.
func (s *Service) EnqueueHostname(ctx context.Context, rawurl string) ([]string, error) {
	host := rawurl
	if strings.Contains(rawurl, "/") || strings.Contains(rawurl, ":") {
		u, err := url.Parse(rawurl)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", rawurl, err)
		}
		if u.Hostname() != "" {
			host = u.Hostname()
		}
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	if err != nil {
		registrable = strings.ToLower(host)
	}

	tracked, found, err := s.urls.UrlByHostname(ctx, registrable)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUrl, registrable)
	}

	orgs, err := s.orgs.OrganizationsForUrl(ctx, tracked.ID)
	if err != nil {
		return nil, err
	}
	jobIDs := make([]string, 0, len(orgs))
	for _, org := range orgs {
		id, err := s.jobs.Enqueue(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, id)
	}
	return jobIDs, nil
}
